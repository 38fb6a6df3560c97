package services

import (
	"hash/fnv"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/temcen/eventrec/pkg/models"
)

// Dense item feature layout.
const (
	categoryOffset = 0
	categoryBlock  = 8
	locationOffset = categoryOffset + categoryBlock
	locationBlock  = 8
	priceOffset    = locationOffset + locationBlock
	timeOffset     = priceOffset + 4
	capacityOffset = timeOffset + 4
	keywordOffset  = capacityOffset + 4
	keywordBlock   = 16
	tagOffset      = keywordOffset + keywordBlock
	tagBlock       = 4

	FeatureDim = tagOffset + tagBlock
)

var (
	nonWordRegex = regexp.MustCompile(`[^\p{L}\p{N}]+`)

	stopWords = map[string]bool{
		"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
		"by": true, "for": true, "from": true, "has": true, "in": true, "is": true, "it": true,
		"its": true, "of": true, "on": true, "that": true, "the": true, "to": true, "was": true,
		"will": true, "with": true, "this": true, "but": true, "they": true, "have": true,
		"near": true, "event": true, "events": true, "our": true, "your": true, "all": true,
	}

	capacityBuckets = []int{50, 200, 1000}
)

// FeatureExtractor maps items and preference maps into one dense space.
type FeatureExtractor struct{}

func NewFeatureExtractor() *FeatureExtractor {
	return &FeatureExtractor{}
}

// ItemVector returns the L2-normalized dense vector of an item.
func (fe *FeatureExtractor) ItemVector(item models.Item) []float64 {
	v := make([]float64, FeatureDim)

	if c := normalizeValue(item.Category); c != "" {
		v[categoryOffset+hashBucket(c, categoryBlock)] = 1
	}
	if l := normalizeValue(item.Location); l != "" {
		v[locationOffset+hashBucket(l, locationBlock)] = 1
	}
	if idx := indexOf(models.PriceRanges, item.PriceRange()); idx >= 0 {
		v[priceOffset+idx] = 1
	}
	if idx := indexOf(models.TimeSlots, item.TimeSlot()); idx >= 0 {
		v[timeOffset+idx] = 1
	}
	if item.Capacity > 0 {
		v[capacityOffset+capacityBucket(item.Capacity)] = 1
	}
	for _, kw := range extractKeywords(item.Title + " " + item.Description) {
		v[keywordOffset+hashBucket(kw, keywordBlock)] += 0.5
	}
	for _, tag := range item.Tags {
		if t := normalizeValue(tag); t != "" {
			v[tagOffset+hashBucket(t, tagBlock)] += 0.5
		}
	}

	normalizeL2(v)
	return v
}

// ProjectPreferences places a sparse type:value map into the item space.
func (fe *FeatureExtractor) ProjectPreferences(sparse map[string]float64) []float64 {
	v := make([]float64, FeatureDim)
	for key, strength := range sparse {
		t, value, ok := strings.Cut(key, ":")
		if !ok || value == "" {
			continue
		}
		switch models.AttributeType(t) {
		case models.AttributeCategory:
			v[categoryOffset+hashBucket(value, categoryBlock)] += strength
		case models.AttributeLocation:
			v[locationOffset+hashBucket(value, locationBlock)] += strength
		case models.AttributePriceRange:
			if idx := indexOf(models.PriceRanges, value); idx >= 0 {
				v[priceOffset+idx] += strength
			}
		case models.AttributeTime:
			if idx := indexOf(models.TimeSlots, value); idx >= 0 {
				v[timeOffset+idx] += strength
			}
		case models.AttributeGeneric:
			v[keywordOffset+hashBucket(value, keywordBlock)] += strength
		}
	}
	normalizeL2(v)
	return v
}

// ModelFeatures builds the learned-model input: the elementwise product of
// item and user vectors followed by their cosine.
func (fe *FeatureExtractor) ModelFeatures(itemVec, userVec []float64) []float64 {
	out := make([]float64, FeatureDim+1)
	for i := 0; i < FeatureDim && i < len(itemVec) && i < len(userVec); i++ {
		out[i] = itemVec[i] * userVec[i]
	}
	out[FeatureDim] = cosineSimilarity(itemVec, userVec)
	return out
}

// extractKeywords returns distinct normalized words of length >= 3 in
// first-seen order.
func extractKeywords(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	cleaned := strings.ToLower(norm.NFC.String(text))

	seen := make(map[string]bool)
	var keywords []string
	for _, word := range nonWordRegex.Split(cleaned, -1) {
		if len([]rune(word)) < 3 || stopWords[word] || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
	}
	return keywords
}

func normalizeValue(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(s)))
}

func hashBucket(s string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() % uint32(n))
}

func capacityBucket(capacity int) int {
	for i, limit := range capacityBuckets {
		if capacity < limit {
			return i
		}
	}
	return len(capacityBuckets)
}

func indexOf(values []string, v string) int {
	for i, candidate := range values {
		if candidate == v {
			return i
		}
	}
	return -1
}
