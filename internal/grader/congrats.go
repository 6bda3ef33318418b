package grader

import "math/rand/v2"

// Congratulation phrases, keyed by locale. A sentence is an opener, a
// punctuation burst and a closer, each drawn independently, so the producible
// set is the cartesian product of the three pools.
var congratsOpeners = map[string][]string{
	"en": {"Congrats", "Nice job", "Well done", "Spot on", "Bravo", "Nice", "Good"},
	"fr": {"Bravo", "Bien joué", "Super", "Excellent", "Joli"},
}

var congratsPunct = map[string][]string{
	"en": {"! ", "!! ", "!!! ", "! ! "},
	"fr": {" ! ", " !! ", " !!! ", " ! ! "},
}

var congratsClosers = map[string][]string{
	"en": {
		"Your exercise is OK.",
		"Right answer.",
		"Good answer.",
		"Correct answer.",
		"Looks good to me!",
		"Your answer is right.",
		"Your answer is correct.",
	},
	"fr": {
		"C'est juste.",
		"Bonne réponse.",
		"Correct.",
		"Ça me semble bon.",
		"C'est la bonne réponse.",
		"Excellente réponse.",
	},
}

// congrats synthesizes a success message in the given locale, falling back to
// English for locales without a pool. Only ever shown on the success path; it
// never replaces real checker output.
func congrats(locale string) string {
	if _, ok := congratsOpeners[locale]; !ok {
		locale = "en"
	}
	return pick(congratsOpeners[locale]) + pick(congratsPunct[locale]) + pick(congratsClosers[locale])
}

func pick(pool []string) string {
	return pool[rand.IntN(len(pool))]
}
