package query

import (
	"net/url"
	"strconv"
	"strings"
)

// Options controls filtering and shaping of a topic query.
type Options struct {
	ShowRoot         bool   `json:"showRoot"`
	ShowAll          bool   `json:"showAll"`
	IsRecursive      bool   `json:"isRecursive"`
	FlattenStructure bool   `json:"flattenStructure"`
	ShowNestedTopics bool   `json:"showNestedTopics"`
	UsePartialMatch  bool   `json:"usePartialMatch"`
	ResultLimit      int    `json:"resultLimit" validate:"gte=-1"`
	AttributeName    string `json:"attributeName,omitempty"`
	AttributeValue   string `json:"attributeValue,omitempty"`
	Query            string `json:"query,omitempty"`
}

// DefaultOptions returns options with no result limit.
func DefaultOptions() Options {
	return Options{ResultLimit: -1}
}

// Terms splits Query into its space-delimited search terms.
func (o Options) Terms() []string {
	return strings.Fields(o.Query)
}

// Bound applies service limits: an unlimited request takes a positive
// defaultLimit, and a positive maxLimit caps the result.
func (o Options) Bound(defaultLimit, maxLimit int) Options {
	if o.ResultLimit < 0 && defaultLimit > 0 {
		o.ResultLimit = defaultLimit
	}
	if maxLimit > 0 && (o.ResultLimit < 0 || o.ResultLimit > maxLimit) {
		o.ResultLimit = maxLimit
	}
	return o
}

// ParseOptions reads options from query-string values. Parameter names are
// matched case-insensitively; malformed booleans and numbers are ignored.
func ParseOptions(values url.Values) Options {
	opts := DefaultOptions()
	for name, vals := range values {
		if len(vals) == 0 {
			continue
		}
		raw := vals[0]
		switch strings.ToLower(name) {
		case "showroot":
			opts.ShowRoot = parseBool(raw, opts.ShowRoot)
		case "showall":
			opts.ShowAll = parseBool(raw, opts.ShowAll)
		case "isrecursive":
			opts.IsRecursive = parseBool(raw, opts.IsRecursive)
		case "flattenstructure":
			opts.FlattenStructure = parseBool(raw, opts.FlattenStructure)
		case "shownestedtopics":
			opts.ShowNestedTopics = parseBool(raw, opts.ShowNestedTopics)
		case "usepartialmatch":
			opts.UsePartialMatch = parseBool(raw, opts.UsePartialMatch)
		case "resultlimit":
			if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n >= -1 {
				opts.ResultLimit = n
			}
		case "attributename":
			opts.AttributeName = raw
		case "attributevalue":
			opts.AttributeValue = raw
		case "query":
			opts.Query = raw
		}
	}
	return opts
}

func parseBool(raw string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}
