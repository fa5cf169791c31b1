package reply

import (
	"strings"

	"github.com/HealthMateDemo/HealthMateV1/pkg/bus"
)

// CommandResponse is a fixed long-form answer selected by a trigger phrase.
type CommandResponse struct {
	Trigger  string
	Health   string
	Mindfull string
	Global   string
}

func (c CommandResponse) For(tmpl bus.Template) string {
	switch tmpl {
	case bus.TemplateHealth:
		return c.Health
	case bus.TemplateMindfull:
		return c.Mindfull
	default:
		return c.Global
	}
}

var CommandResponses = []CommandResponse{
	{
		Trigger: "make a list",
		Health: `Here's a comprehensive list of **health tips** to improve your physical well-being:

1. **Nutrition & Diet**
   • Eat a balanced diet with plenty of fruits and vegetables
   • Stay hydrated by drinking 8-10 glasses of water daily
   • Include lean proteins in your meals
   • Limit processed foods and added sugars

2. **Exercise & Fitness**
   • Aim for 150 minutes of moderate exercise weekly
   • Include strength training 2-3 times per week
   • Take regular walks throughout the day
   • Find activities you enjoy to stay motivated

3. **Sleep & Recovery**
   • Get 7-9 hours of quality sleep nightly
   • Maintain a consistent sleep schedule
   • Create a relaxing bedtime routine
   • Keep your bedroom cool and dark

4. **Preventive Care**
   • Schedule regular check-ups with your doctor
   • Get recommended vaccinations
   • Monitor your blood pressure and cholesterol
   • Practice good hygiene habits

5. **Lifestyle Habits**
   • Avoid smoking and limit alcohol consumption
   • Practice stress management techniques
   • Maintain a healthy weight
   • Take regular breaks from sitting

**Additional Resources:**
• Visit https://www.who.int/health-topics for more health information
• Contact health.support@sundhed.dk for personalized advice
• Check out https://www.cdc.gov/healthyweight for weight management tips

Remember, small changes can lead to big improvements in your overall **health**!`,
		Mindfull: `Here's a comprehensive list of **mental wellness tips** to support your emotional well-being:

1. **Mindfulness & Meditation**
   • Practice daily meditation for 10-20 minutes
   • Use mindfulness techniques throughout the day
   • Focus on your breath during stressful moments
   • Practice gratitude journaling

2. **Stress Management**
   • Identify your stress triggers
   • Use deep breathing exercises
   • Take regular breaks from work
   • Practice progressive muscle relaxation

3. **Emotional Health**
   • Acknowledge and validate your feelings
   • Practice self-compassion
   • Set healthy boundaries
   • Express emotions in healthy ways

4. **Social Connection**
   • Maintain meaningful relationships
   • Reach out to friends and family
   • Join support groups if needed
   • Practice active listening

5. **Self-Care Practices**
   • Prioritize activities that bring you joy
   • Get adequate sleep and rest
   • Engage in creative hobbies
   • Spend time in nature

6. **Professional Support**
   • Consider therapy or counseling
   • Don't hesitate to seek help when needed
   • Build a support network
   • Practice self-reflection regularly

**Additional Resources:**
• Visit https://www.mind.org.uk for mental health support
• Contact mental.health@sundhed.dk for confidential counseling
• Check out https://www.headspace.com for meditation guidance
• Email wellness.coach@sundhed.dk for personalized wellness plans

Remember, taking care of your **mental health** is just as important as physical health!`,
		Global: `Here's a comprehensive list of **wellness tips** covering both physical and mental health:

1. **Physical Wellness**
   • Eat a balanced diet rich in nutrients
   • Exercise regularly (150 minutes weekly)
   • Get 7-9 hours of quality sleep
   • Stay hydrated throughout the day

2. **Mental Wellness**
   • Practice mindfulness and meditation
   • Manage stress through healthy coping mechanisms
   • Maintain meaningful social connections
   • Practice self-compassion and self-care

3. **Lifestyle Balance**
   • Set healthy boundaries in all areas of life
   • Find work-life balance
   • Engage in activities that bring joy
   • Take regular breaks and vacations

4. **Preventive Health**
   • Schedule regular check-ups
   • Get recommended screenings
   • Practice good hygiene habits
   • Avoid harmful substances

5. **Emotional Intelligence**
   • Recognize and manage emotions
   • Practice empathy and understanding
   • Develop healthy communication skills
   • Build resilience to life's challenges

6. **Holistic Approach**
   • View health as mind-body connection
   • Address both physical and emotional needs
   • Create sustainable healthy habits
   • Seek professional help when needed

**Additional Resources:**
• Visit https://www.wellness.gov for comprehensive wellness information
• Contact wellness.support@sundhed.dk for holistic health guidance
• Check out https://www.mayoclinic.org/healthy-lifestyle for expert advice
• Email holistic.coach@sundhed.dk for personalized wellness coaching

Remember, true **wellness** comes from balancing all aspects of your health - physical, mental, and emotional!`,
	},
	{
		Trigger: "give me a list",
		Health: `Here's a practical list of **health improvements** you can start today:

1. **Daily Health Habits**
   • Start your day with a glass of water
   • Take a 10-minute walk after meals
   • Practice good posture throughout the day
   • Get up and move every hour

2. **Nutrition Boosters**
   • Add more colorful vegetables to meals
   • Choose whole grains over refined carbs
   • Include healthy fats like nuts and avocados
   • Plan meals ahead to avoid unhealthy choices

3. **Fitness Fundamentals**
   • Begin with 10-minute exercise sessions
   • Use stairs instead of elevators
   • Park farther away to walk more
   • Try home workouts with body weight

4. **Sleep Optimization**
   • Create a consistent bedtime routine
   • Avoid screens 1 hour before bed
   • Keep your bedroom cool and quiet
   • Limit caffeine after 2 PM

5. **Health Monitoring**
   • Track your daily water intake
   • Monitor your sleep quality
   • Keep a food diary occasionally
   • Check your blood pressure regularly

**Quick Resources:**
• Download the health tracker app: https://www.myfitnesspal.com
• Get personalized meal plans: nutrition.plans@sundhed.dk
• Find local fitness classes: https://www.mindbodyonline.com

Start with one or two items and gradually build healthy habits!`,
		Mindfull: `Here's a practical list of **mental wellness practices** you can incorporate daily:

1. **Daily Mindfulness**
   • Take 5 deep breaths when you wake up
   • Practice mindful eating during meals
   • Notice 3 things you're grateful for
   • Pause before reacting to stress

2. **Emotional Awareness**
   • Check in with your feelings regularly
   • Name your emotions when they arise
   • Practice self-compassion daily
   • Allow yourself to feel without judgment

3. **Stress Relief Techniques**
   • Use the 4-7-8 breathing method
   • Take 5-minute breaks every hour
   • Practice progressive muscle relaxation
   • Use visualization techniques

4. **Social Wellness**
   • Reach out to one person daily
   • Practice active listening
   • Share your feelings with trusted friends
   • Join a community or group activity

5. **Self-Care Rituals**
   • Create a morning routine you enjoy
   • Spend time in nature regularly
   • Engage in creative activities
   • Practice saying "no" when needed

6. **Mental Health Maintenance**
   • Keep a mood journal
   • Practice positive self-talk
   • Set realistic goals and expectations
   • Celebrate small victories

**Quick Resources:**
• Try the Calm meditation app: https://www.calm.com
• Get daily mindfulness tips: mindfulness.daily@sundhed.dk
• Join online support groups: https://www.7cups.com

Remember, mental wellness is a journey, not a destination!`,
		Global: `Here's a balanced list of **wellness practices** for overall health:

1. **Daily Wellness Routine**
   • Start with 5 minutes of meditation
   • Drink water first thing in the morning
   • Take a short walk outside
   • Practice gratitude before bed

2. **Physical Health Basics**
   • Move your body for 30 minutes daily
   • Eat whole, unprocessed foods
   • Get adequate sleep (7-9 hours)
   • Stay hydrated throughout the day

3. **Mental Health Practices**
   • Practice mindfulness throughout the day
   • Manage stress with healthy coping skills
   • Maintain social connections
   • Set healthy boundaries

4. **Lifestyle Balance**
   • Find work-life balance
   • Engage in hobbies you enjoy
   • Take regular breaks from technology
   • Spend time in nature

5. **Preventive Wellness**
   • Schedule regular health check-ups
   • Practice good hygiene habits
   • Get adequate rest and recovery
   • Listen to your body's needs

6. **Emotional Intelligence**
   • Recognize and validate your emotions
   • Practice empathy and understanding
   • Develop healthy communication
   • Build resilience to challenges

**Quick Resources:**
• Comprehensive wellness platform: https://www.wellness.com
• Get personalized wellness coaching: wellness.coach@sundhed.dk
• Daily wellness inspiration: https://www.tinybuddha.com

Remember, wellness is about creating harmony between body, mind, and spirit!`,
	},
}

// MatchCommand returns the first command whose trigger occurs in text,
// compared case-insensitively.
func MatchCommand(text string) (CommandResponse, bool) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, cmd := range CommandResponses {
		if strings.Contains(normalized, strings.ToLower(cmd.Trigger)) {
			return cmd, true
		}
	}
	return CommandResponse{}, false
}

func CommandReply(text string, tmpl bus.Template) (string, bool) {
	cmd, ok := MatchCommand(text)
	if !ok {
		return "", false
	}
	return cmd.For(tmpl.OrDefault()), true
}

func HasCommandTrigger(text string) bool {
	_, ok := MatchCommand(text)
	return ok
}
