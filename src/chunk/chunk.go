// Package chunk splits oversized signaling payloads into numbered pieces and
// reassembles them.
//
// A chunked message of logical type T is stored as one "T-meta" record whose
// content is the decimal piece count, followed by that many "T" records whose
// content is "<index>/<total>:<payload>". Pieces may arrive in any order and
// any number of times; reassembly only succeeds once every index is present.
package chunk

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mosaicnetworks/callrelay/src/common"
	"github.com/sirupsen/logrus"
)

// MetaSuffix is appended to a record type to name its meta record type.
const MetaSuffix = "-meta"

var piecePattern = regexp.MustCompile(`(?s)^(\d+)/(\d+):(.*)$`)

// Piece is one parsed fragment of a chunked message.
type Piece struct {
	Index   int
	Total   int
	Content string
}

// MetaType returns the record type carrying the piece count for typ.
func MetaType(typ string) string {
	return typ + MetaSuffix
}

// IsMetaType reports whether typ names a meta record type.
func IsMetaType(typ string) bool {
	return strings.HasSuffix(typ, MetaSuffix)
}

// IsPiece reports whether s has the shape of a piece. Base64url payloads never
// contain '/' or ':', so a plain payload is never mistaken for a piece.
func IsPiece(s string) bool {
	return piecePattern.MatchString(s)
}

// FormatPiece renders a piece in wire form.
func FormatPiece(index, total int, content string) string {
	return fmt.Sprintf("%d/%d:%s", index, total, content)
}

// ParsePiece parses the wire form of a piece.
func ParsePiece(s string) (Piece, error) {
	m := piecePattern.FindStringSubmatch(s)
	if m == nil {
		return Piece{}, common.NewCallErr("chunk", common.DecodeError, "malformed piece", nil)
	}

	index, err := strconv.Atoi(m[1])
	if err != nil {
		return Piece{}, common.NewCallErr("chunk", common.DecodeError, "piece index", err)
	}

	total, err := strconv.Atoi(m[2])
	if err != nil {
		return Piece{}, common.NewCallErr("chunk", common.DecodeError, "piece total", err)
	}

	return Piece{Index: index, Total: total, Content: m[3]}, nil
}

// Split cuts content into pieces of at most size bytes, without splitting a
// UTF-8 sequence, and returns them in wire form. Empty content yields a single
// empty piece.
func Split(content string, size int) []string {
	if size <= 0 {
		size = len(content)
	}

	parts := []string{}
	for len(content) > size {
		cut := size
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		if cut == 0 {
			cut = size
		}
		parts = append(parts, content[:cut])
		content = content[cut:]
	}
	parts = append(parts, content)

	pieces := make([]string, len(parts))
	for i, p := range parts {
		pieces[i] = FormatPiece(i, len(parts), p)
	}

	return pieces
}

// Reassembler rebuilds chunked messages.
type Reassembler struct {
	logger *logrus.Entry
}

// NewReassembler ...
func NewReassembler(logger *logrus.Entry) *Reassembler {
	return &Reassembler{
		logger: logger,
	}
}

// Reassemble joins pieces given the content of the meta record. Pieces must be
// passed in arrival order (ascending record id). Malformed pieces are skipped.
// When an index appears more than once, the first occurrence wins and the
// others are dropped. The result is only produced when every index in
// [0, total) is present and every piece declares the same total; otherwise a
// NotReady or ProtocolViolation CallErr is returned and the caller should try
// again on the next poll.
func (r *Reassembler) Reassemble(meta string, pieces []string) (string, error) {
	total, err := strconv.Atoi(strings.TrimSpace(meta))
	if err != nil || total <= 0 {
		return "", common.NewCallErr("chunk", common.DecodeError, fmt.Sprintf("meta %q", meta), err)
	}

	byIndex := make(map[int]Piece, total)
	agree := true

	for _, raw := range pieces {
		p, err := ParsePiece(raw)
		if err != nil {
			r.logger.WithError(err).Debug("Skipping piece")
			continue
		}

		if p.Total != total {
			agree = false
			r.logger.WithFields(logrus.Fields{
				"declared": total,
				"piece":    p.Total,
			}).Debug("Piece total mismatch")
			continue
		}

		if p.Index >= total {
			r.logger.WithField("index", p.Index).Debug("Piece index out of range")
			continue
		}

		if _, ok := byIndex[p.Index]; ok {
			r.logger.WithField("index", p.Index).Debug("Duplicate piece, keeping first")
			continue
		}

		byIndex[p.Index] = p
	}

	if !agree {
		return "", common.NewCallErr("chunk", common.ProtocolViolation, "pieces disagree on total", nil)
	}

	if len(byIndex) != total {
		return "", common.NewCallErr("chunk", common.NotReady,
			fmt.Sprintf("%d/%d pieces", len(byIndex), total), nil)
	}

	sorted := make([]Piece, 0, total)
	for _, p := range byIndex {
		sorted = append(sorted, p)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	var b strings.Builder
	for _, p := range sorted {
		b.WriteString(p.Content)
	}

	return b.String(), nil
}
