// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package fingerprint

import (
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Options steer the extractor for the different call sites. The aggregator
// parses search-result titles with AssumeVolumeNumber=false and FixYear=true;
// the library scanner prefers the folder year for image-heavy layouts.
type Options struct {
	AssumeVolumeNumber bool
	FixYear            bool
	PreferFolderYear   bool
}

// metadataFilenames are sidecar files whose fingerprint is computed from the
// containing folder instead of the file itself.
var metadataFilenames = map[string]bool{
	"cvinfo.xml":    true,
	"comicinfo.xml": true,
	"series.json":   true,
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpeg": true,
	".jpg":  true,
	".webp": true,
	".gif":  true,
}

type span struct{ start, end int }

func (s span) overlaps(o span) bool { return s.start < o.end && o.start < s.end }

func overlapsAny(s span, spans []span) bool {
	for _, o := range spans {
		if s.overlaps(o) {
			return true
		}
	}
	return false
}

var (
	plusAnnualRe  = regexp.MustCompile(`(?i)\+\s*annuals?`)
	annualTokenRe = regexp.MustCompile(`(?i)annuals?`)

	normalizeReplacer = strings.NewReplacer(
		"‘", "'", "’", "'",
		"“", `"`, "”", `"`,
		"–", "-", "—", "-",
		"（", "(", "）", ")",
		"+", " ",
	)

	volumeCyrillicRe = regexp.MustCompile(`(?i)Том\s*(\d+)`)
	volumeCJKRe      = regexp.MustCompile(`第\s*(\d+)\s*[卷册巻]`)
	volumeKoreanRe   = regexp.MustCompile(`(\d+)\s*권`)

	yearPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\((\d{4})\)`),
		regexp.MustCompile(`\([A-Za-z]+\.?,?\s+(\d{4})\)`),
		regexp.MustCompile(`--(\d{4})--`),
		regexp.MustCompile(`,\s+(\d{4})(?:\s|$)`),
		regexp.MustCompile(`\(\d{2}-(\d{4})\)`),
		regexp.MustCompile(`(\d{4})-\d{2}-\d{2}`),
		regexp.MustCompile(`(\d{4})\s+Edition`),
		regexp.MustCompile(`\d{4}-\d{4}\s+(\d{4})`),
	}

	volumeDigitsRe = regexp.MustCompile(`(?i)\b(?:volume|vol\.?|v)[.\-\s]*(\d+(?:\s*-\s*\d+)?)\b`)
	volumeRomanRe  = regexp.MustCompile(`\b(?:V(?:ol(?:ume)?\.?|OL(?:UME)?\.?)?)[.\-\s]*([IVX]{1,4})\b`)
	bareNumberRe   = regexp.MustCompile(`^\d+$`)

	tpbRe       = regexp.MustCompile(`(?i)\b(?:tpb|trade[\s\-]?paper[\s\-]?back)\b`)
	oneShotRe   = regexp.MustCompile(`(?i)\b(?:os|one[\s\-]?shot)\b`)
	hardCoverRe = regexp.MustCompile(`(?i)\b(?:hc|hard[\s\-]?cover)\b`)

	coverWordRe      = regexp.MustCompile(`(?i)\bcovers?\b`)
	coverNotBeforeRe = regexp.MustCompile(`(?i)(?:\bno[\s\-]*|\bhard[\s\-]*|\d+\s*)$`)
	coverCompactRe   = regexp.MustCompile(`(?i)\bn\d+c\d+\b`)
	coverFrontRe     = regexp.MustCompile(`(?i)\(\d\)i?fc\b`)

	trailingSeparatorsRe = regexp.MustCompile(`[\s\-_:,.]+$`)
	leadingNumberingRe   = regexp.MustCompile(`^\d+\.?\s+`)
	whitespaceRunRe      = regexp.MustCompile(`\s+`)
)

// num is the issue number grammar: optional minus, decimal or comma decimal,
// optional 1-3 letter suffix, or a half/quarter glyph.
const num = `-?\d+(?:[.,]\d+)?(?:[a-zA-Z]{1,3})?[½¼]?|-?[½¼]`

var issuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\(_(` + num + `)\)`),
	regexp.MustCompile(`(?i)\b(?:c(?:hapter)?|issue|book|no)[\s.\-#]*(` + num + `)(?:\s*-\s*(` + num + `))?`),
	regexp.MustCompile(`(?i)\b(` + num + `)\s+of\s+(?:` + num + `)\b`),
	regexp.MustCompile(`(?i)(?:^|\s)(` + num + `)\s*-\s*(` + num + `)(?:\s|$)`),
	regexp.MustCompile(`#\s*(` + num + `)(?:\s*-\s*#?(` + num + `))?`),
	regexp.MustCompile(`(?:^|\s)(` + num + `)(?:\s|$)`),
}

var issueLastResortRe = regexp.MustCompile(`^(` + num + `)$`)

// Extract parses a filepath or title into a Fingerprint. The sequence and the
// tie-breaking rules are deliberate; changing the order changes which part of
// a name wins.
func Extract(path string, opts Options) Fingerprint {
	var fp Fingerprint

	base := filepath.Base(path)
	parent := filepath.Base(filepath.Dir(path))
	grandparent := filepath.Base(filepath.Dir(filepath.Dir(path)))
	if parent == "." || parent == string(filepath.Separator) {
		parent = ""
	}
	if grandparent == "." || grandparent == string(filepath.Separator) {
		grandparent = ""
	}

	// Metadata sidecars adopt the folder's identity.
	if metadataFilenames[strings.ToLower(base)] {
		fp.SpecialVersion = SpecialMetadata
		base = parent
		parent = grandparent
		grandparent = ""
	}

	fp.Annual = impliesAnnual(base) || impliesAnnual(parent)

	ext := strings.ToLower(filepath.Ext(base))
	isImage := imageExtensions[ext]
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if strings.HasSuffix(strings.ToLower(name), ".tar") {
		name = name[:len(name)-len(".tar")]
	}

	clean := normalizeTitle(name)
	cleanParent := normalizeTitle(parent)
	cleanGrandparent := normalizeTitle(grandparent)
	stripped := blankBracketRuns(clean)
	strippedParent := blankBracketRuns(cleanParent)

	// Year search order: filename, folder, grandparent. All year spans in the
	// searched strings are kept so issue matching can avoid them.
	yearTargets := []string{clean, cleanParent, cleanGrandparent}
	if opts.PreferFolderYear {
		yearTargets[0], yearTargets[1] = yearTargets[1], yearTargets[0]
	}
	for _, target := range yearTargets {
		if year, ok := chooseYear(target); ok {
			if opts.FixYear {
				year = fixYear(year)
			}
			fp.Year = year
			break
		}
	}
	fileYearSpans := allYearSpans(clean)
	parentYearSpans := allYearSpans(cleanParent)

	// Volume number: filename first, then folder. A bare numeric folder also
	// counts as a volume marker.
	volSpan, volNumber, volInFile := findVolume(clean)
	if !volNumber.IsSet() {
		_, volNumber, _ = findVolume(cleanParent)
		if !volNumber.IsSet() && bareNumberRe.MatchString(strings.TrimSpace(cleanParent)) {
			if v, err := strconv.Atoi(strings.TrimSpace(cleanParent)); err == nil {
				volNumber = Single(float64(v))
			}
		}
	}
	if !volNumber.IsSet() && opts.AssumeVolumeNumber {
		volNumber = Single(1)
	}
	fp.VolumeNumber = volNumber

	// Special version tokens, with cover markers overriding the rest.
	specialSpan, special := findSpecialVersion(clean)
	coverTargets := clean
	if isImage {
		coverTargets = clean + " " + cleanParent
	}
	if hasCoverMarker(coverTargets) {
		special = SpecialCover
		fp.SpecialVersion = SpecialCover
	} else if fp.SpecialVersion != SpecialMetadata && special != SpecialNone {
		fp.SpecialVersion = special
	}

	// Issue number. Image files pull it from the folder name; everything else
	// from the filename around the volume marker.
	var issueSpanInFile span
	if fp.SpecialVersion != SpecialCover && fp.SpecialVersion != SpecialMetadata && special == SpecialNone {
		var excluded []span
		excluded = append(excluded, fileYearSpans...)
		if specialSpan.end > specialSpan.start {
			excluded = append(excluded, specialSpan)
		}
		var issue Number
		if isImage {
			// Image files carry at most a page number; the issue lives in the
			// folder name.
			issue, _ = findIssueNumber(strippedParent, span{}, parentYearSpans)
		} else {
			searchVol := span{}
			if volInFile {
				searchVol = volSpan
			}
			issue, issueSpanInFile = findIssueNumber(stripped, searchVol, excluded)
			if !issue.IsSet() {
				trimmed := strings.TrimSpace(stripped)
				if m := issueLastResortRe.FindStringSubmatch(trimmed); m != nil {
					if v, ok := parseIssueNumber(m[1]); ok {
						issue = Single(v)
						issueSpanInFile = span{}
					}
				}
			}
		}
		fp.IssueNumber = issue
	}

	fp.Series = extractSeries(stripped, strippedParent, cleanGrandparent, collectSpans(
		firstYearSpan(fileYearSpans),
		volSpanIfInFile(volInFile, volSpan),
		specialSpan,
		issueSpanInFile,
	))

	// An explicit collected-edition token next to an explicit volume marker
	// and no issue number means the "volumes" are the issues.
	if fp.SpecialVersion == SpecialTPB && volInFile && !fp.IssueNumber.IsSet() {
		fp.SpecialVersion = SpecialVolumeAsIssue
		fp.IssueNumber = fp.VolumeNumber
	}

	// No issue number and no explicit shape: assume a collected edition.
	if !fp.IssueNumber.IsSet() && fp.SpecialVersion == SpecialNone {
		fp.SpecialVersion = SpecialTPB
	}

	return fp
}

// ExtractTitle parses a free-form title (no path semantics).
func ExtractTitle(title string, opts Options) Fingerprint {
	return Extract(title, opts)
}

func impliesAnnual(part string) bool {
	if part == "" {
		return false
	}
	cleaned := plusAnnualRe.ReplaceAllString(part, "")
	return annualTokenRe.MatchString(cleaned)
}

func normalizeTitle(s string) string {
	if decoded, err := url.PathUnescape(s); err == nil {
		s = decoded
	}
	s = normalizeReplacer.Replace(s)
	s = volumeCyrillicRe.ReplaceAllString(s, "Volume $1")
	s = volumeCJKRe.ReplaceAllString(s, "Volume $1")
	s = volumeKoreanRe.ReplaceAllString(s, "Volume $1")
	return strings.TrimSpace(s)
}

// blankBracketRuns replaces balanced parenthetical, bracketed and braced runs
// with spaces. Offsets of the remaining text stay valid.
func blankBracketRuns(s string) string {
	closers := map[rune]rune{'(': ')', '[': ']', '{': '}'}
	runes := []rune(s)
	out := make([]rune, len(runes))
	copy(out, runes)
	for i := 0; i < len(runes); i++ {
		closer, ok := closers[runes[i]]
		if !ok {
			continue
		}
		depth := 0
		for j := i; j < len(runes); j++ {
			switch runes[j] {
			case runes[i]:
				depth++
			case closer:
				depth--
			}
			if depth == 0 {
				for k := i; k <= j; k++ {
					out[k] = ' '
				}
				i = j
				break
			}
		}
	}
	// Rune-indexed blanking preserves rune counts; byte offsets can shift for
	// multi-byte input, so the caller only compares spans computed on the same
	// string variant.
	return string(out)
}

func chooseYear(target string) (int, bool) {
	if target == "" {
		return 0, false
	}
	for _, re := range yearPatterns {
		if m := re.FindStringSubmatch(target); m != nil {
			if year, err := strconv.Atoi(m[1]); err == nil {
				return year, true
			}
		}
	}
	return 0, false
}

func allYearSpans(target string) []span {
	var spans []span
	for _, re := range yearPatterns {
		for _, idx := range re.FindAllStringSubmatchIndex(target, -1) {
			spans = append(spans, span{idx[0], idx[1]})
		}
	}
	return spans
}

// fixYear repairs years whose middle digits were swapped during entry, like
// 2204 for 2024. Years already inside [1900,2100) pass through.
func fixYear(year int) int {
	if year >= 1900 && year < 2100 {
		return year
	}
	s := strconv.Itoa(year)
	if len(s) != 4 {
		return year
	}
	swapped, err := strconv.Atoi(string([]byte{s[0], s[2], s[1], s[3]}))
	if err != nil {
		return year
	}
	if swapped >= 1900 && swapped < 2100 {
		return swapped
	}
	return year
}

func findVolume(target string) (span, Number, bool) {
	if target == "" {
		return span{}, Number{}, false
	}
	if idx := volumeDigitsRe.FindStringSubmatchIndex(target); idx != nil {
		raw := target[idx[2]:idx[3]]
		return span{idx[0], idx[1]}, parseVolumeNumber(raw), true
	}
	if idx := volumeRomanRe.FindStringSubmatchIndex(target); idx != nil {
		raw := target[idx[2]:idx[3]]
		if v, ok := romanToInt(raw); ok {
			return span{idx[0], idx[1]}, Single(float64(v)), true
		}
	}
	return span{}, Number{}, false
}

func parseVolumeNumber(raw string) Number {
	raw = strings.TrimSpace(raw)
	if a, b, ok := strings.Cut(raw, "-"); ok {
		lo, err1 := strconv.Atoi(strings.TrimSpace(a))
		hi, err2 := strconv.Atoi(strings.TrimSpace(b))
		if err1 == nil && err2 == nil {
			return NewRange(float64(lo), float64(hi))
		}
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return Single(float64(v))
	}
	return Number{}
}

var romanValues = map[byte]int{'I': 1, 'V': 5, 'X': 10}

func romanToInt(s string) (int, bool) {
	s = strings.ToUpper(s)
	total := 0
	for i := 0; i < len(s); i++ {
		v, ok := romanValues[s[i]]
		if !ok {
			return 0, false
		}
		if i+1 < len(s) && romanValues[s[i+1]] > v {
			total -= v
		} else {
			total += v
		}
	}
	if total < 1 || total > 10 {
		return 0, false
	}
	return total, true
}

func findSpecialVersion(target string) (span, SpecialVersion) {
	type candidate struct {
		re      *regexp.Regexp
		special SpecialVersion
	}
	for _, c := range []candidate{
		{tpbRe, SpecialTPB},
		{oneShotRe, SpecialOneShot},
		{hardCoverRe, SpecialHardCover},
	} {
		if idx := c.re.FindStringIndex(target); idx != nil {
			return span{idx[0], idx[1]}, c.special
		}
	}
	return span{}, SpecialNone
}

// hasCoverMarker finds the word "cover" unless preceded by "no", "hard" or a
// count ("5 covers"), plus the compact encodings n<d>c<d> and (<d>)fc.
func hasCoverMarker(target string) bool {
	for _, idx := range coverWordRe.FindAllStringIndex(target, -1) {
		prefix := target[:idx[0]]
		if coverNotBeforeRe.MatchString(prefix) {
			continue
		}
		return true
	}
	if coverCompactRe.MatchString(target) {
		return true
	}
	return coverFrontRe.MatchString(target)
}

// findIssueNumber applies the ordered pattern list: each pattern is tried
// after the volume marker first, then before it. Matches overlapping a year
// or special-version span are rejected; among remaining matches for one
// pattern, text ending in a digit wins over a letter suffix, then the
// earliest match wins.
func findIssueNumber(target string, volume span, excluded []span) (Number, span) {
	type region struct {
		text   string
		offset int
	}
	regions := []region{{target, 0}}
	if volume.end > volume.start {
		regions = []region{
			{target[volume.end:], volume.end},
			{target[:volume.start], 0},
		}
	}

	for _, re := range issuePatterns {
		for _, reg := range regions {
			if reg.text == "" {
				continue
			}
			var best *span
			var bestNumber Number
			bestEndsInDigit := false
			for _, idx := range re.FindAllStringSubmatchIndex(reg.text, -1) {
				abs := span{idx[0] + reg.offset, idx[1] + reg.offset}
				if overlapsAny(abs, excluded) {
					continue
				}
				first := reg.text[idx[2]:idx[3]]
				second := ""
				if len(idx) >= 6 && idx[4] >= 0 {
					second = reg.text[idx[4]:idx[5]]
				}
				number, ok := buildIssueNumber(first, second)
				if !ok {
					continue
				}
				endsInDigit := matchEndsInDigit(reg.text[idx[0]:idx[1]])
				switch {
				case best == nil,
					endsInDigit && !bestEndsInDigit,
					endsInDigit == bestEndsInDigit && abs.start < best.start:
					s := abs
					best = &s
					bestNumber = number
					bestEndsInDigit = endsInDigit
				}
			}
			if best != nil {
				return bestNumber, *best
			}
		}
	}
	return Number{}, span{}
}

func matchEndsInDigit(matched string) bool {
	matched = strings.TrimRight(matched, " \t#")
	if matched == "" {
		return false
	}
	last := matched[len(matched)-1]
	return last >= '0' && last <= '9'
}

func buildIssueNumber(first, second string) (Number, bool) {
	a, ok := parseIssueNumber(first)
	if !ok {
		return Number{}, false
	}
	if second == "" {
		return Single(a), true
	}
	b, ok := parseIssueNumber(second)
	if !ok {
		return Single(a), true
	}
	return NewRange(a, b), true
}

// parseIssueNumber normalizes one issue token: half/quarter glyphs map to
// .5/.3, a letter suffix maps to a two-digit fraction (a=.01 .. z=.26),
// comma decimals become dots and a leading minus is honored.
func parseIssueNumber(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, false
	}
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var fraction float64
	switch {
	case strings.HasSuffix(s, "½"):
		fraction = 0.5
		s = strings.TrimSuffix(s, "½")
	case strings.HasSuffix(s, "¼"):
		fraction = 0.3
		s = strings.TrimSuffix(s, "¼")
	default:
		letters := 0
		for letters < len(s) {
			c := s[len(s)-1-letters]
			if c < 'a' || c > 'z' {
				break
			}
			letters++
		}
		if letters > 0 {
			suffix := s[len(s)-letters:]
			s = s[:len(s)-letters]
			fraction = float64(suffix[0]-'a'+1) / 100
		}
	}

	s = strings.ReplaceAll(s, ",", ".")
	var base float64
	if s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		base = v
	}
	value := base + fraction
	if negative {
		value = -value
	}
	return value, true
}

// firstYearSpan picks the span that bounds the series name. Any year token
// in the filename bounds it, whichever string the chosen year came from.
func firstYearSpan(spans []span) span {
	if len(spans) == 0 {
		return span{}
	}
	return spans[0]
}

func volSpanIfInFile(inFile bool, s span) span {
	if inFile {
		return s
	}
	return span{}
}

func collectSpans(spans ...span) []span {
	var out []span
	for _, s := range spans {
		if s.end > s.start {
			out = append(out, s)
		}
	}
	return out
}

// extractSeries takes the text left of the first structural span as the
// series name, falling back to the folder and then the grandparent folder.
func extractSeries(name, folder, grandparent string, spans []span) string {
	cut := len(name)
	for _, s := range spans {
		if s.start < cut {
			cut = s.start
		}
	}
	series := cleanSeriesName(name[:cut])
	if series != "" {
		return series
	}
	folderCut := len(folder)
	if folderSpan, _, ok := firstFolderSpan(folder); ok && folderSpan.start < folderCut {
		folderCut = folderSpan.start
	}
	if folder != "" {
		if series = cleanSeriesName(folder[:folderCut]); series != "" {
			return series
		}
	}
	return cleanSeriesName(grandparent)
}

func firstFolderSpan(folder string) (span, Number, bool) {
	if folder == "" {
		return span{}, Number{}, false
	}
	best := span{start: -1}
	if s, _, ok := findVolume(folder); ok && (best.start == -1 || s.start < best.start) {
		best = s
	}
	for _, s := range allYearSpans(folder) {
		if best.start == -1 || s.start < best.start {
			best = s
		}
	}
	if best.start == -1 {
		return span{}, Number{}, false
	}
	return best, Number{}, true
}

func cleanSeriesName(s string) string {
	s = trailingSeparatorsRe.ReplaceAllString(s, "")
	s = strings.NewReplacer("-", " ", "_", " ").Replace(s)
	s = leadingNumberingRe.ReplaceAllString(s, "")
	s = whitespaceRunRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
