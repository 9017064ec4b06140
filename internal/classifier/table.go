package classifier

import "regexp"

type categoryPattern struct {
	category string
	pattern  *regexp.Regexp
	weight   float64
}

// categoryIntent maps a scoring category to the intent it drives.
var categoryIntent = map[string]Intent{
	"shelter":     IntentFindShelter,
	"location":    IntentFindShelter,
	"legal":       IntentLegalServices,
	"counseling":  IntentCounselingServices,
	"emergency":   IntentEmergencyHelp,
	"information": IntentGeneralInformation,
	"resource":    IntentOtherResources,
	"contact":     IntentOtherResources,
	"end":         IntentEndConversation,
	"general":     IntentOffTopic,
}

// weightedPatterns is the fixed table of spec.md §4.3 step 3. Weights are
// tuned so a single strong match in a category (e.g. "shelter") crosses
// the high band (confidence >= 0.7, i.e. score >= 14) on its own.
var weightedPatterns = []categoryPattern{
	{"shelter", regexp.MustCompile(`\bshelter`), 15},
	{"shelter", regexp.MustCompile(`\bdomestic violence\b`), 15},
	{"shelter", regexp.MustCompile(`\bsafe house\b`), 12},
	{"shelter", regexp.MustCompile(`\bdv\b`), 8},

	{"location", regexp.MustCompile(`\bnear me\b`), 6},
	{"location", regexp.MustCompile(`\bin [a-z][a-z .'-]+`), 4},
	{"location", regexp.MustCompile(`\bclose(st)? (to|by)\b`), 4},

	{"legal", regexp.MustCompile(`\blawyer\b`), 14},
	{"legal", regexp.MustCompile(`\battorney\b`), 14},
	{"legal", regexp.MustCompile(`\brestraining order\b`), 15},
	{"legal", regexp.MustCompile(`\bprotective order\b`), 15},
	{"legal", regexp.MustCompile(`\blegal (aid|help|services?)\b`), 12},

	{"counseling", regexp.MustCompile(`\bcounsel(ing|or)\b`), 14},
	{"counseling", regexp.MustCompile(`\btherap(y|ist)\b`), 12},
	{"counseling", regexp.MustCompile(`\bsupport group\b`), 10},
	{"counseling", regexp.MustCompile(`\btalk to someone\b`), 8},

	{"emergency", regexp.MustCompile(`\b911\b`), 20},
	{"emergency", regexp.MustCompile(`\bemergency\b`), 16},
	{"emergency", regexp.MustCompile(`\bin danger\b`), 16},
	{"emergency", regexp.MustCompile(`\bright now\b`), 6},
	{"emergency", regexp.MustCompile(`\bhelp me\b`), 6},

	{"information", regexp.MustCompile(`\binformation\b`), 10},
	{"information", regexp.MustCompile(`\btell me about\b`), 8},
	{"information", regexp.MustCompile(`\bwhat is\b`), 6},
	{"information", regexp.MustCompile(`\bhow (do|does|can)\b`), 6},

	{"resource", regexp.MustCompile(`\bresources?\b`), 10},
	{"resource", regexp.MustCompile(`\bfood bank\b`), 10},
	{"resource", regexp.MustCompile(`\bfinancial assistance\b`), 10},
	{"resource", regexp.MustCompile(`\bjob (training|help)\b`), 8},

	{"contact", regexp.MustCompile(`\bphone number\b`), 8},
	{"contact", regexp.MustCompile(`\baddress\b`), 6},
	{"contact", regexp.MustCompile(`\bcontact\b`), 6},

	{"end", regexp.MustCompile(`\bgoodbye\b`), 18},
	{"end", regexp.MustCompile(`\bbye\b`), 14},
	{"end", regexp.MustCompile(`\bthat'?s all\b`), 14},
	{"end", regexp.MustCompile(`\bhang up\b`), 16},
	{"end", regexp.MustCompile(`\bno thanks?\b`), 10},

	{"general", regexp.MustCompile(`\bweather\b`), 10},
	{"general", regexp.MustCompile(`\bjoke\b`), 10},
	{"general", regexp.MustCompile(`\bsports\b`), 8},
}

// deicticWords trigger the LLM tie-break per spec.md §4.3 step 5.
var deicticWords = []string{"that", "this", "one"}
