package main

import (
	"bufio"
	"io"
	"strings"

	"github.com/noatgnu/UniprotWebParser/internal/accession"
)

// readIDs reads one identifier per line. Blank lines are skipped and repeated
// identifiers keep their first position. With parse set, each line is
// reduced to the UniProt accession it contains; lines without one are kept
// as written.
func readIDs(r io.Reader, parse bool) ([]string, error) {
	var ids []string
	seen := make(map[string]struct{})

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		id := line
		if parse {
			id = accession.ParseHeader(line).String()
		}

		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, sc.Err()
}
