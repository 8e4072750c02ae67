// combo-gen generates synthetic combo lists for testing the matcher and
// the daemon without authoring dozens of combos by hand.
//
// Usage:
//
//	go run tools/combo-gen.go -output combos.json -profile starter
//	go run tools/combo-gen.go -output combos.json -profile stress -count 500
//	expandd simulate -combos combos.json "sig "
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"expandd/internal/combo"
)

// comboProfile shapes the generated list: keyword lengths, matching mode
// mix and how often snippets carry variables.
type comboProfile struct {
	Name        string
	Description string

	Groups        int
	KeywordMinLen int
	KeywordMaxLen int

	// LooseShare is the fraction of combos using loose matching.
	LooseShare float64

	// SensitiveShare is the fraction pinned to case-sensitive matching.
	SensitiveShare float64

	// VariableShare is the fraction of snippets with at least one
	// template variable.
	VariableShare float64

	// PrefixChainShare is the fraction of keywords that extend an
	// earlier keyword, to exercise longest-match resolution.
	PrefixChainShare float64

	// DisabledShare is the fraction of combos generated disabled.
	DisabledShare float64
}

var profiles = map[string]comboProfile{
	"starter": {
		Name:        "Starter Pack",
		Description: "A handful of practical hand-written combos",
	},
	"typing": {
		Name:          "Typing Abbreviations",
		Description:   "Short strict keywords with plain text snippets",
		Groups:        2,
		KeywordMinLen: 3,
		KeywordMaxLen: 6,
		LooseShare:    0.05,
		VariableShare: 0.1,
		DisabledShare: 0.05,
	},
	"rich": {
		Name:             "Template Heavy",
		Description:      "Snippets full of variables: dates, cursor, clipboard, input",
		Groups:           3,
		KeywordMinLen:    4,
		KeywordMaxLen:    8,
		LooseShare:       0.2,
		SensitiveShare:   0.1,
		VariableShare:    0.9,
		PrefixChainShare: 0.1,
	},
	"stress": {
		Name:             "Matcher Stress",
		Description:      "Long keyword chains sharing prefixes, mixed modes",
		Groups:           5,
		KeywordMinLen:    4,
		KeywordMaxLen:    14,
		LooseShare:       0.4,
		SensitiveShare:   0.25,
		VariableShare:    0.3,
		PrefixChainShare: 0.5,
		DisabledShare:    0.1,
	},
}

var syllables = []string{
	"ba", "be", "bo", "da", "de", "du", "fa", "fi", "ga", "go",
	"ka", "ke", "ko", "la", "li", "lo", "ma", "me", "mi", "mo",
	"na", "ne", "no", "pa", "pe", "po", "ra", "re", "ri", "ro",
	"sa", "se", "si", "so", "ta", "te", "ti", "to", "va", "vi",
}

var words = []string{
	"meeting", "notes", "review", "thanks", "regards", "project",
	"update", "status", "release", "draft", "invoice", "ticket",
	"morning", "afternoon", "deadline", "schedule", "attached",
	"please", "confirm", "details", "summary", "follow", "up",
}

var variables = []string{
	"#{date}", "#{time}", "#{dateTime}", "#{clipboard}", "#{cursor}",
	"#{name}", "#{name:upper}", "#{envVar:USER}",
	"#{dateTime:Mon 2 Jan 2006}", "#{input:Recipient name:there}",
}

func main() {
	var (
		outputPath   = flag.String("output", "combos.json", "Output file path")
		count        = flag.Int("count", 50, "Number of combos to generate")
		profileName  = flag.String("profile", "typing", "Generation profile")
		seed         = flag.Int64("seed", 0, "Random seed; 0 = use current time")
		listProfiles = flag.Bool("list", false, "List available profiles")
	)
	flag.Parse()

	if *listProfiles {
		fmt.Println("Available profiles:")
		for name, p := range profiles {
			fmt.Printf("  %-10s %s\n", name, p.Description)
		}
		os.Exit(0)
	}

	profile, ok := profiles[*profileName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown profile: %s\n", *profileName)
		fmt.Fprintln(os.Stderr, "Use -list to see available profiles")
		os.Exit(1)
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))

	var list *combo.List
	if *profileName == "starter" {
		list = starterList()
	} else {
		list = generateList(rng, profile, *count)
	}

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling combo list: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*outputPath, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %d combos to %s (profile %s, seed %d)\n",
		len(list.Combos), *outputPath, profile.Name, *seed)
	printStats(list)
}

// starterList returns hand-written combos that demonstrate the template
// grammar. Useful as a first combo file.
func starterList() *combo.List {
	list := combo.NewList()
	def := list.DefaultGroup().ID

	add := func(name, keyword, snippet string) *combo.Combo {
		c := combo.New(name, keyword, snippet)
		c.GroupID = def
		list.AddCombo(c)
		return c
	}

	add("Shrug", "shrug", `¯\_(ツ)_/¯`)
	add("Today's date", "dt", "#{date}")
	add("Timestamp", "ts", "#{dateTime}")
	add("By the way", "btw", "by the way")
	add("Email signature", "sig",
		"Best regards,\n#{envVar:USER}\n")
	add("Greeting with cursor", "hej",
		"Hi #{input:Recipient name:there},\n\n#{cursor}\n\nThanks!")
	add("Paste quoted", "pq", "> #{clipboard}")

	slow := add("Slow reveal", "slow", "three...#{delay:500}two...#{delay:500}one")
	slow.MatchingMode = combo.MatchLoose

	return list
}

func generateList(rng *rand.Rand, p comboProfile, count int) *combo.List {
	list := combo.NewList()

	groupIDs := []string{list.DefaultGroup().ID}
	for i := 1; i < p.Groups; i++ {
		g := combo.NewGroup(fmt.Sprintf("Group %d", i))
		list.AddGroup(g)
		groupIDs = append(groupIDs, g.ID)
	}

	seen := make(map[string]bool)
	var keywords []string

	for i := 0; i < count; i++ {
		keyword := makeKeyword(rng, p, keywords)
		if seen[keyword] {
			// A duplicate now and then is realistic, but mostly retry.
			if rng.Float64() > 0.05 {
				keyword = keyword + syllables[rng.Intn(len(syllables))]
			}
		}
		seen[keyword] = true
		keywords = append(keywords, keyword)

		c := combo.New(fmt.Sprintf("Combo %03d", i+1), keyword, makeSnippet(rng, p))
		c.GroupID = groupIDs[rng.Intn(len(groupIDs))]
		if rng.Float64() < p.LooseShare {
			c.MatchingMode = combo.MatchLoose
		}
		switch r := rng.Float64(); {
		case r < p.SensitiveShare:
			c.CaseSensitivity = combo.CaseSensitive
		case r < p.SensitiveShare*2:
			c.CaseSensitivity = combo.CaseInsensitive
		}
		if rng.Float64() < p.DisabledShare {
			c.Enabled = false
		}

		if err := list.AddCombo(c); err != nil {
			// Only duplicate ids can fail here; skip and move on.
			continue
		}
	}

	return list
}

// makeKeyword builds a pronounceable keyword, sometimes extending an
// earlier one so the list contains proper-prefix chains.
func makeKeyword(rng *rand.Rand, p comboProfile, existing []string) string {
	if len(existing) > 0 && rng.Float64() < p.PrefixChainShare {
		base := existing[rng.Intn(len(existing))]
		return base + syllables[rng.Intn(len(syllables))]
	}

	length := p.KeywordMinLen
	if p.KeywordMaxLen > p.KeywordMinLen {
		length += rng.Intn(p.KeywordMaxLen - p.KeywordMinLen)
	}
	var b strings.Builder
	for b.Len() < length {
		b.WriteString(syllables[rng.Intn(len(syllables))])
	}
	return b.String()
}

func makeSnippet(rng *rand.Rand, p comboProfile) string {
	n := 3 + rng.Intn(12)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		parts = append(parts, words[rng.Intn(len(words))])
	}
	text := strings.Join(parts, " ")

	if rng.Float64() < p.VariableShare {
		v := variables[rng.Intn(len(variables))]
		switch rng.Intn(3) {
		case 0:
			text = v + " " + text
		case 1:
			text = text + " " + v
		default:
			mid := len(parts) / 2
			text = strings.Join(parts[:mid], " ") + " " + v + " " + strings.Join(parts[mid:], " ")
		}
	}
	return text
}

func printStats(list *combo.List) {
	var loose, sensitive, withVars, disabled int
	maxKeyword := 0
	for _, c := range list.Combos {
		if c.MatchingMode == combo.MatchLoose {
			loose++
		}
		if c.CaseSensitivity == combo.CaseSensitive {
			sensitive++
		}
		if strings.Contains(c.Snippet, "#{") {
			withVars++
		}
		if !c.Enabled {
			disabled++
		}
		if n := len([]rune(c.Keyword)); n > maxKeyword {
			maxKeyword = n
		}
	}

	fmt.Println("\nStatistics:")
	fmt.Printf("  Groups:           %d\n", len(list.Groups))
	fmt.Printf("  Combos:           %d (%d disabled)\n", len(list.Combos), disabled)
	fmt.Printf("  Loose matching:   %d\n", loose)
	fmt.Printf("  Case sensitive:   %d\n", sensitive)
	fmt.Printf("  With variables:   %d\n", withVars)
	fmt.Printf("  Longest keyword:  %d runes\n", maxKeyword)
	if conflicts := list.Conflicts(); len(conflicts) > 0 {
		fmt.Printf("  Keyword conflicts: %d (duplicates or shadowed prefixes)\n", len(conflicts))
	}
}
