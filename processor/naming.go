package processor

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	hashPrefixBytes = 1024
	maxBaseNameLen  = 50
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// NameGenerator derives stored file names of the form
// {yyyymmdd_hhmmss}_{hash8}_{sanitized base}.jpg.
type NameGenerator struct {
	Now func() time.Time
}

func NewNameGenerator() *NameGenerator {
	return &NameGenerator{Now: time.Now}
}

// Generate never fails. Uniqueness is probabilistic (second precision plus a
// partial content hash); names only have to be unique inside one card's
// directory, so cardID does not take part in the name.
func (g *NameGenerator) Generate(originalName string, data []byte, cardID string) string {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	timestamp := now().UTC().Format("20060102_150405")

	head := data
	if len(head) > hashPrefixBytes {
		head = head[:hashPrefixBytes]
	}
	sum := sha256.Sum256(head)
	hash := hex.EncodeToString(sum[:])[:8]

	return timestamp + "_" + hash + "_" + SanitizeBaseName(originalName) + "." + Extension
}

// SanitizeBaseName strips directories and the extension from name, replaces
// every character outside [A-Za-z0-9_.-] with '_' and caps the result at 50
// characters.
func SanitizeBaseName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(name)
	if ext := filepath.Ext(name); ext != "" && ext != name {
		name = strings.TrimSuffix(name, ext)
	}
	name = unsafeNameChars.ReplaceAllString(name, "_")
	if len(name) > maxBaseNameLen {
		name = name[:maxBaseNameLen]
	}
	if name == "" || name == "." || name == ".." || name == "/" {
		return "upload"
	}
	return name
}
