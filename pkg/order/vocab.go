package order

// Vocabulary is the single canonical table of domain terms the extractor
// works from. Facilities override entries through configuration; the
// defaults below cover a typical residential dining menu.
type Vocabulary struct {
	// Shorthand maps kitchen jargon to its plain-language expansion,
	// replaced on whole-word boundaries.
	Shorthand map[string]string `mapstructure:"shorthand"`
	// Foods are known menu terms; multi-word entries win over their
	// single-word prefixes.
	Foods []string `mapstructure:"foods"`
	// Textures are preparation/consistency modifiers pulled out of item names.
	Textures []string `mapstructure:"textures"`
	// DietaryPhrases are whole-phrase restriction matches.
	DietaryPhrases []string `mapstructure:"dietary_phrases"`
	// SmallTalk holds case-insensitive regex fragments stripped before
	// item extraction.
	SmallTalk []string `mapstructure:"small_talk"`
	// Modifiers are regex fragments for free-form preparation notes kept
	// alongside dietary restrictions ("hold the croutons").
	Modifiers []string `mapstructure:"modifiers"`
}

func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Shorthand: map[string]string{
			"86":  "out of",
			"sos": "sauce on the side",
			"w/o": "without",
		},
		Foods: []string{
			"chicken salad", "chicken soup", "tomato soup", "chicken",
			"soup", "steak", "salad", "fish", "salmon", "meatloaf",
			"turkey", "ham", "burger", "grilled cheese", "sandwich",
			"pasta", "rice", "mashed potatoes", "baked potato", "potatoes",
			"green beans", "broccoli", "carrots", "peas", "eggs", "bacon",
			"toast", "oatmeal", "pancakes", "cereal", "muffin",
			"fruit cup", "yogurt", "pudding", "jello", "ice cream",
			"cookie", "pie", "cake", "apple juice", "orange juice",
			"juice", "coffee", "tea", "milk", "water",
		},
		Textures: []string{
			"pureed", "minced", "chopped", "ground", "mechanical soft",
			"soft", "thickened", "medium rare", "medium well", "well done",
			"rare", "medium",
		},
		DietaryPhrases: []string{
			"no salt", "low sodium", "sugar free", "no sugar", "low sugar",
			"gluten free", "dairy free", "lactose free", "no dairy",
			"diabetic", "vegetarian", "vegan", "nut allergy", "low fat",
		},
		SmallTalk: []string{
			`good (morning|afternoon|evening|night)`,
			`how (are|is) (you|your day|everyone)( (today|doing))?`,
			`\bplease\b`,
			`thank (you|u)( (very|so) much)?`,
			`\bthanks\b`,
			`\b(um+|uh+|hmm+)\b`,
			`\byou know\b`,
			`\b(hi|hello|hey)( there)?\b`,
			`\b(i'd|i would|we'd|we would) like\b`,
			`\bcan (i|we) (get|have)\b`,
			`\b(i|we)('ll)? (need|have|want)\b`,
			`(for )?table (number )?[0-9]+`,
			`\bfor (mr|mrs|ms|dr|miss)\.?\s+[a-z]+\b`,
		},
		Modifiers: []string{
			`\bhold the [a-z]+\b`,
			`\b[a-z]+ on the side\b`,
			`\bextra [a-z]+\b`,
		},
	}
}

// merged returns v with empty tables backfilled from the defaults.
func (v Vocabulary) merged() Vocabulary {
	def := DefaultVocabulary()
	if len(v.Shorthand) == 0 {
		v.Shorthand = def.Shorthand
	}
	if len(v.Foods) == 0 {
		v.Foods = def.Foods
	}
	if len(v.Textures) == 0 {
		v.Textures = def.Textures
	}
	if len(v.DietaryPhrases) == 0 {
		v.DietaryPhrases = def.DietaryPhrases
	}
	if len(v.SmallTalk) == 0 {
		v.SmallTalk = def.SmallTalk
	}
	if len(v.Modifiers) == 0 {
		v.Modifiers = def.Modifiers
	}
	return v
}
