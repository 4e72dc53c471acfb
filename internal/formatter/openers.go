package formatter

// Openers is the generic pool every post can draw from.
var Openers = []string{
	"Another day, another Starmer disaster:",
	"You couldn't make it up:",
	"The gift that keeps on giving:",
	"Meanwhile, in Starmer's Britain:",
	"Tier One incompetence:",
	"Leadership? What leadership?",
	"The two-tier PM strikes again:",
	"Breaking: Starmer being Starmer again:",
	"Absolutely astonishing:",
	"And yet somehow he's surprised:",
	"The man who couldn't organise a press conference:",
	"Prime Ministerial prowess on full display:",
	"Another masterclass in mediocrity:",
	"Sir Flip-Flop delivers once more:",
	"Is anyone actually surprised?",
	"Forensic incompetence:",
	"Imagine defending this:",
}

// CategoryOpeners are tried alongside Openers when the item carries a matching category.
var CategoryOpeners = map[string][]string{
	"international": {
		"Britain's finest moment on the world stage:",
		"Making us proud internationally:",
		"When diplomacy goes wrong:",
		"Britain's image abroad continues to flourish:",
	},
	"polling": {
		"The numbers don't lie:",
		"Another day, another poll collapse:",
		"The British public has spoken:",
		"Democratic mandate? What mandate?",
	},
	"promise": {
		"Remember when he promised this?",
		"Another promise, another U-turn:",
		"Consistency is clearly not his strength:",
		"Add it to the broken promises pile:",
	},
}

// DramaticOpeners are used for very negative items.
var DramaticOpeners = []string{
	"Absolutely catastrophic:",
	"Unbelievable scenes:",
	"This is genuinely astonishing:",
}

// Hashtags are appended when enabled and there is room left.
var Hashtags = []string{
	"#StarmerOut",
	"#TwoTierKeir",
	"#BrokenPromises",
	"#LabourFail",
}
