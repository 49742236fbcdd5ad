// Package accession extracts UniProt accessions and isoform numbers from
// free-form identifiers such as FASTA headers ("sp|P06493|CDK1_HUMAN"),
// protein group strings or bare accessions ("P06493-2").
package accession

import (
	"regexp"
	"strings"
)

// https://www.uniprot.org/help/accession_numbers
var accessionRegex = regexp.MustCompile(`(?P<accession>[OPQ][0-9][A-Z0-9]{3}[0-9]|[A-NR-Z][0-9](?:[A-Z][A-Z0-9]{2}[0-9]){1,2})(?:-(?P<isoform>\d+))?`)

var (
	accessionGroup = accessionRegex.SubexpIndex("accession")
	isoformGroup   = accessionRegex.SubexpIndex("isoform")
)

// Match is the result of parsing one raw identifier. The zero value is an
// unmatched result.
type Match struct {
	raw       string
	accession string
	isoform   string
}

// Parse finds the first UniProt accession in raw
func Parse(raw string) Match {
	m := Match{raw: raw}
	sub := accessionRegex.FindStringSubmatch(raw)
	if sub == nil {
		return m
	}
	m.accession = sub[accessionGroup]
	m.isoform = sub[isoformGroup]
	return m
}

// OK reports whether an accession was found
func (m Match) OK() bool { return m.accession != "" }

// Raw returns the input string
func (m Match) Raw() string { return m.raw }

// Accession returns the bare accession, or "" when unmatched
func (m Match) Accession() string { return m.accession }

// Isoform returns the isoform number without the dash, or "" when absent
func (m Match) Isoform() string { return m.isoform }

// String returns the accession with its isoform suffix, or the raw input
// when nothing matched.
func (m Match) String() string {
	if !m.OK() {
		return m.raw
	}
	if m.isoform == "" {
		return m.accession
	}
	return m.accession + "-" + m.isoform
}

// ParseHeader strips a leading FASTA '>' and surrounding whitespace before
// parsing. Only the first whitespace-delimited token is considered.
func ParseHeader(line string) Match {
	line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), ">"))
	if fields := strings.Fields(line); len(fields) > 0 {
		return Parse(fields[0])
	}
	return Match{raw: line}
}
