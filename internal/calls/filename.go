package calls

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Recorder file names:
//
//	<epochSeconds>.<fraction>-<caller>-<called>-<in|out>.<sln|wav>   (current)
//	<epochSeconds>.<fraction>-<caller>-<in|out>.<sln|wav>            (legacy)
//
// The current pattern is always tried first.
var (
	currentNamePattern = regexp.MustCompile(`^(\d+\.\d+)-(\d+)-(\d+)-(in|out)\.(sln|wav)$`)
	legacyNamePattern  = regexp.MustCompile(`^(\d+\.\d+)-(\d+)-(in|out)\.(sln|wav)$`)
)

// ParsedName is the information encoded in a recording's file name.
type ParsedName struct {
	Timestamp    string
	CallerNumber string
	CalledNumber string // empty for legacy names
	Channel      Channel
	Ext          string
}

// CallID groups both channel files of one call.
func (p ParsedName) CallID() string { return p.Timestamp + "-" + p.CallerNumber }

func (p ParsedName) Legacy() bool { return p.CalledNumber == "" }

// StartTime decodes the epoch timestamp prefix. The fraction is kept to nanosecond precision.
func (p ParsedName) StartTime() time.Time {
	secPart, fracPart, _ := strings.Cut(p.Timestamp, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}
	}
	if len(fracPart) > 9 {
		fracPart = fracPart[:9]
	}
	fracPart += strings.Repeat("0", 9-len(fracPart))
	nsec, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		nsec = 0
	}
	return time.Unix(sec, nsec).UTC()
}

// ParseFilename matches a base name against the recorder grammar.
// Names that match neither pattern report ok=false; they are not errors.
func ParseFilename(name string) (ParsedName, bool) {
	base := filepath.Base(name)
	if m := currentNamePattern.FindStringSubmatch(base); m != nil {
		return ParsedName{
			Timestamp:    m[1],
			CallerNumber: m[2],
			CalledNumber: m[3],
			Channel:      Channel(m[4]),
			Ext:          m[5],
		}, true
	}
	if m := legacyNamePattern.FindStringSubmatch(base); m != nil {
		return ParsedName{
			Timestamp:    m[1],
			CallerNumber: m[2],
			Channel:      Channel(m[3]),
			Ext:          m[4],
		}, true
	}
	return ParsedName{}, false
}

// IsAudioFile is the cheap extension filter applied before parsing.
func IsAudioFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".sln", ".wav":
		return true
	default:
		return false
	}
}
