package worker

import "math/rand"

// DefaultNames is the pool of participant names workers draw from when a
// scenario asks for a count rather than explicit descriptors.
var DefaultNames = []string{
	"alice", "bob", "charlie", "diana", "edward", "fiona", "george", "hannah",
	"ian", "julia", "kevin", "luna", "marcus", "nina", "owen", "petra",
	"quincy", "ruby", "simon", "tessa", "ulrich", "vera", "winston", "xara",
	"yuki", "zoe", "adrian", "bianca", "carlos", "delphine", "ethan", "freya",
	"gabriel", "hazel", "iris", "jasper", "kira", "liam", "maya", "noah",
	"olive", "phoenix", "quinn", "river", "sage", "theo", "uma", "violet",
	"willow", "xander", "yasmin", "zane", "aria", "blake", "cleo", "dante",
	"ember", "felix", "gemma", "hugo", "indigo", "jade", "kai", "leo",
	"mira", "nora", "orion", "piper", "quest", "raven", "stella", "tyler",
	"unity", "vance", "wren", "xavi", "yara", "zara", "atlas", "brooke",
	"cruz", "dove", "elena", "finn", "grace", "hunter", "ivy", "jude",
	"knox", "lyra", "milo", "neve", "oslo", "penny", "quill", "rose",
	"sky", "terra", "ula", "vega", "wave", "xyla", "york", "zion",
}

// FixedNames returns the first n default names in stable order.
func FixedNames(n int) []string {
	if n > len(DefaultNames) {
		n = len(DefaultNames)
	}
	return append([]string(nil), DefaultNames[:n]...)
}

// RandomNames returns n distinct names drawn randomly from the pool.
func RandomNames(n int) []string {
	if n > len(DefaultNames) {
		n = len(DefaultNames)
	}
	shuffled := append([]string(nil), DefaultNames...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:n]
}
