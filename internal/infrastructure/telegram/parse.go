package telegram

import (
	"regexp"
	"strings"
)

// Caption format used by the warehouses:
//
//	<ID Kho> - <Tên Kho>
//	Ngày: dd/mm/yyyy   (optional, informational only)
var captionLineRe = regexp.MustCompile(`^\s*([^\s-]+)\s*-\s*(.+?)\s*$`)

// ParseCaption extracts the warehouse id and free-form name from a message
// caption. Extra lines such as the date are ignored; the business day always
// comes from the message timestamp and the cutoff.
func ParseCaption(text string) (id, name string, ok bool) {
	var first string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			first = line
			break
		}
	}
	if first == "" {
		return "", "", false
	}

	m := captionLineRe.FindStringSubmatch(first)
	if m == nil {
		return "", "", false
	}
	return strings.TrimSpace(m[1]), strings.Join(strings.Fields(m[2]), " "), true
}
