package chunk

import (
	"strconv"
	"strings"
	"testing"

	"github.com/mosaicnetworks/callrelay/src/common"
)

func TestReassembleOrderIndependent(t *testing.T) {
	r := NewReassembler(common.NewTestEntry(t, "chunk"))

	orders := [][]string{
		{"0/3:a", "1/3:b", "2/3:c"},
		{"1/3:b", "0/3:a", "2/3:c"},
		{"2/3:c", "1/3:b", "0/3:a"},
	}

	for _, pieces := range orders {
		res, err := r.Reassemble("3", pieces)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		if res != "abc" {
			t.Fatalf("result should be abc, not %s", res)
		}
	}
}

func TestReassembleMissingPiece(t *testing.T) {
	r := NewReassembler(common.NewTestEntry(t, "chunk"))

	pieces := []string{"0/3:a", "2/3:c"}

	for i := 0; i < 5; i++ {
		_, err := r.Reassemble("3", pieces)
		if !common.IsCall(err, common.NotReady) {
			t.Fatalf("incomplete set should be NotReady, got %v", err)
		}
	}

	pieces = append(pieces, "1/3:b")

	res, err := r.Reassemble("3", pieces)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if res != "abc" {
		t.Fatalf("result should be abc, not %s", res)
	}
}

func TestReassembleDuplicateFirstWins(t *testing.T) {
	r := NewReassembler(common.NewTestEntry(t, "chunk"))

	res, err := r.Reassemble("2", []string{"0/2:first", "0/2:second", "1/2:!"})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if res != "first!" {
		t.Fatalf("result should be first!, not %s", res)
	}

	// A duplicate does not make up for a missing index.
	_, err = r.Reassemble("2", []string{"0/2:a", "0/2:a"})
	if !common.IsCall(err, common.NotReady) {
		t.Fatalf("duplicates should not count twice, got %v", err)
	}
}

func TestReassembleTotalMismatch(t *testing.T) {
	r := NewReassembler(common.NewTestEntry(t, "chunk"))

	_, err := r.Reassemble("2", []string{"0/2:a", "1/3:b"})
	if !common.IsCall(err, common.ProtocolViolation) {
		t.Fatalf("total mismatch should be a ProtocolViolation, got %v", err)
	}
}

func TestReassembleSkipsMalformed(t *testing.T) {
	r := NewReassembler(common.NewTestEntry(t, "chunk"))

	res, err := r.Reassemble("2", []string{"garbage", "1/2:b", "x/2:z", "0/2:a"})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if res != "ab" {
		t.Fatalf("result should be ab, not %s", res)
	}

	if _, err := r.Reassemble("two", nil); !common.IsCall(err, common.DecodeError) {
		t.Fatalf("bad meta should be a DecodeError, got %v", err)
	}
}

func TestSplitReassemble(t *testing.T) {
	r := NewReassembler(common.NewTestEntry(t, "chunk"))

	content := strings.Repeat("abcdefghij", 25) + "ț"

	pieces := Split(content, 16)
	if len(pieces) < 2 {
		t.Fatalf("content should have been split")
	}

	for _, p := range pieces {
		if !IsPiece(p) {
			t.Fatalf("%q is not a piece", p)
		}
	}

	res, err := r.Reassemble(strconv.Itoa(len(pieces)), pieces)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if res != content {
		t.Fatalf("reassembled content does not match")
	}

	if single := Split("", 16); len(single) != 1 || single[0] != "0/1:" {
		t.Fatalf("empty content should give one empty piece, got %v", single)
	}
}

func TestPieceWithColonsInContent(t *testing.T) {
	p, err := ParsePiece("3/7:a:b/c\nd")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if p.Index != 3 || p.Total != 7 || p.Content != "a:b/c\nd" {
		t.Fatalf("unexpected piece %+v", p)
	}
}
