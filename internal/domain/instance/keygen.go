package instance

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strconv"
)

// keyAlphabet is the character set for instance keys: URL-safe, uppercase.
const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// KeyLen is the fixed length of an instance key.
const KeyLen = 8

var keyPattern = regexp.MustCompile(`^[A-Z0-9]{8}$`)

// NewKey generates a random 8-character alphanumeric slug.
func NewKey() string {
	b := make([]byte, KeyLen)
	max := big.NewInt(int64(len(keyAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken.
			panic(err)
		}
		b[i] = keyAlphabet[n.Int64()]
	}
	return string(b)
}

// ValidKey reports whether s is a well-formed instance key.
func ValidKey(s string) bool {
	return keyPattern.MatchString(s)
}

var nameAdjectives = []string{
	"amber", "bold", "calm", "dusty", "eager", "fuzzy", "gentle", "happy",
	"icy", "jolly", "keen", "lively", "mellow", "noble", "odd", "proud",
	"quiet", "rapid", "solid", "tidy", "vivid", "warm", "young", "zesty",
}

var nameNouns = []string{
	"otter", "falcon", "maple", "comet", "ridge", "harbor", "cedar",
	"ember", "drift", "meadow", "summit", "canyon", "breeze", "pond",
	"grove", "dune", "lagoon", "boulder", "willow", "thicket",
}

// NewName generates an adj-noun-NNN label for instances created without one.
func NewName() string {
	adj := nameAdjectives[randIndex(len(nameAdjectives))]
	noun := nameNouns[randIndex(len(nameNouns))]
	n := 100 + randIndex(900)
	return adj + "-" + noun + "-" + strconv.Itoa(n)
}

func randIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic(err)
	}
	return int(v.Int64())
}
