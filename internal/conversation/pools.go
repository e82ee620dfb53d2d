package conversation

// Category is the kind of craving a message or trigger describes
type Category string

const (
	Stress  Category = "stress"
	Boredom Category = "boredom"
	Anger   Category = "anger"
	Habit   Category = "habit"
	Social  Category = "social"
	Other   Category = "other"
	None    Category = "none"

	// fallback is used when nothing in a message matches a keyword.
	fallback Category = "fallback"
	coping   Category = "coping"
)

// Triggers lists the categories a user can pick when starting a session.
var Triggers = []Category{Stress, Boredom, Anger, Habit, Social, Other}

// ParseCategory maps user input to a trigger category.
func ParseCategory(s string) (Category, bool) {
	if s == string(None) {
		return None, true
	}
	for _, c := range Triggers {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Label is the display name of a trigger.
func (c Category) Label() string {
	switch c {
	case Stress:
		return "Stress or anxiety"
	case Boredom:
		return "Boredom"
	case Anger:
		return "Anger or frustration"
	case Habit:
		return "Habit or routine"
	case Social:
		return "Social situation"
	case Other:
		return "Something else"
	default:
		return "Not sure"
	}
}

var keywords = map[Category][]string{
	Stress:  {"stress", "anxious", "anxiety", "worried", "overwhelm", "panic", "nervous", "pressure", "deadline"},
	Anger:   {"angry", "anger", "mad", "furious", "annoyed", "frustrat", "hate", "pissed"},
	Boredom: {"bored", "boring", "nothing to do", "restless", "idle"},
	Habit:   {"habit", "always", "routine", "usually", "every day", "automatic", "after dinner", "with coffee"},
	Social:  {"friend", "party", "people", "everyone", "offered", "social", "pub", "bar"},
}

// classifyOrder fixes the precedence when a message matches several
// categories.
var classifyOrder = []Category{Stress, Anger, Boredom, Habit, Social}

var openings = map[Category]string{
	Stress:  "Stress can make a craving feel urgent. Let's slow things down together.",
	Boredom: "Boredom cravings pass faster when your mind has somewhere else to go. Let's talk it through.",
	Anger:   "Anger is a lot of energy looking for an exit. Let's find a better one than this.",
	Habit:   "Habits run on autopilot. Taking a few minutes to talk puts you back in charge.",
	Social:  "Social moments can pull hard. Let's take a step back from the situation for a few minutes.",
	Other:   "Whatever brought you here, it's worth pausing before you decide.",
	None:    "Let's take a few minutes before you decide.",
}

var prompts = map[Category]string{
	Stress:  "What's weighing on you most right now?",
	Boredom: "What were you doing just before the craving started?",
	Anger:   "What happened that got you fired up?",
	Habit:   "When does this craving usually show up for you?",
	Social:  "Who are you with, or who are you thinking about?",
	Other:   "Can you describe what you're feeling right now?",
	None:    "How are you feeling right now?",
}

var responses = map[Category][]string{
	Stress: {
		"That sounds like a lot to carry. Cravings often peak and fade within a few minutes.",
		"When stress builds, the urge promises relief, but it usually adds to the pile later.",
		"Try naming the one thing that is stressing you most. Smaller problems feel more manageable.",
		"Your body is on high alert. A slow breath out can tell it that it's safe.",
		"You've handled stressful days before without giving in. What helped then?",
	},
	Anger: {
		"It makes sense to feel angry about that. The craving won't change what happened, though.",
		"Anger tends to burn hot and fast. Give it a few minutes and it usually cools.",
		"What would you tell a friend who felt this way right now?",
		"Moving your body can burn off some of that energy. Even a short walk helps.",
		"You're allowed to be frustrated and still choose what you do next.",
	},
	Boredom: {
		"Boredom is uncomfortable, but it isn't dangerous. It passes.",
		"Is there something small you've been putting off? Now could be a good time.",
		"Cravings love empty time. What could fill the next ten minutes instead?",
		"Sometimes boredom is really tiredness in disguise. How has your sleep been?",
		"Try changing rooms or stepping outside. A new setting resets your attention.",
	},
	Habit: {
		"Habits are strongest at the same time and place every day. Noticing the pattern is the first step.",
		"You can keep the routine and swap out the part you want to change.",
		"Every time you pause like this, the habit loses a little of its grip.",
		"What would a version of this routine without the craving look like?",
		"It's normal for the autopilot to kick in. You just took the controls back.",
	},
	Social: {
		"It's hard to be the one who says no. You don't owe anyone an explanation.",
		"Having a drink of water or something else in your hand can make it easier.",
		"People tend to notice far less than we think they do.",
		"Is there someone around who knows you're cutting back and could back you up?",
		"You can step outside for a moment and come back when you feel steadier.",
	},
}

type weighted struct {
	text   string
	weight int
}

var fallbackPool = []weighted{
	{"I hear you. Tell me more about that.", 3},
	{"Thanks for sharing that. How strong is the craving right now, from one to ten?", 2},
	{"That makes sense. What do you think would help most in this moment?", 2},
	{"Keep going, you're doing well by talking this through.", 2},
	{"What would future you think about this decision tomorrow morning?", 1},
	{"Remember why you set this lockbox in the first place.", 1},
}

var copingStrategies = []string{
	"Coping idea: drink a full glass of water slowly.",
	"Coping idea: go for a five minute walk, even just around the room.",
	"Coping idea: try the 4-7-8 breathing exercise.",
	"Coping idea: text or call someone you trust.",
	"Coping idea: write down three things you're grateful for today.",
	"Coping idea: chew gum or eat a piece of fruit.",
	"Coping idea: splash cold water on your face.",
}

// ConfirmationQuestion is asked before a guided override is confirmed.
const ConfirmationQuestion = "You've met the requirements. Take a moment: do you still want to unlock the box?"

// BreathingInteraction is logged on the user's behalf when a breathing
// exercise finishes.
const BreathingInteraction = "I completed the breathing exercise"

// Opening returns the opening message and first prompt for a trigger.
func Opening(c Category) (message, prompt string) {
	message, ok := openings[c]
	if !ok {
		message = openings[None]
	}
	prompt, ok = prompts[c]
	if !ok {
		prompt = prompts[None]
	}
	return message, prompt
}
