package zstid

import "testing"

func TestFromBlockOffsetRoundTrip(t *testing.T) {
	cases := []struct {
		block uint32
		off   uint32
	}{
		{0, 1},
		{0, OffsetsPerBlock},
		{1, 1},
		{42, 64},
		{MaxBlockNumber, OffsetsPerBlock},
	}
	for _, c := range cases {
		tid, err := FromBlockOffset(c.block, c.off)
		if err != nil {
			t.Fatalf("FromBlockOffset(%d,%d): %v", c.block, c.off, err)
		}
		if got := tid.Block(); got != c.block {
			t.Errorf("FromBlockOffset(%d,%d).Block() = %d, want %d", c.block, c.off, got, c.block)
		}
		if got := tid.Offset(); got != c.off {
			t.Errorf("FromBlockOffset(%d,%d).Offset() = %d, want %d", c.block, c.off, got, c.off)
		}
	}
}

func TestFromBlockOffsetRejectsBadOffset(t *testing.T) {
	if _, err := FromBlockOffset(0, 0); err == nil {
		t.Errorf("offset 0 should be rejected")
	}
	if _, err := FromBlockOffset(0, OffsetsPerBlock+1); err == nil {
		t.Errorf("offset beyond OffsetsPerBlock should be rejected")
	}
}

func TestMaxIsConsistentWithBlockOffset(t *testing.T) {
	want, err := FromBlockOffset(MaxBlockNumber, OffsetsPerBlock)
	if err != nil {
		t.Fatalf("FromBlockOffset: %v", err)
	}
	if Max != want {
		t.Errorf("Max = %d, want %d (derived from MaxBlockNumber/OffsetsPerBlock)", Max, want)
	}
	if !Max.IsValid() {
		t.Errorf("Max should be valid")
	}
	if MaxPlusOne.IsValid() {
		t.Errorf("MaxPlusOne must never be a valid tid")
	}
}

func TestIsValid(t *testing.T) {
	if Invalid.IsValid() {
		t.Errorf("Invalid must not be valid")
	}
	if !Min.IsValid() {
		t.Errorf("Min must be valid")
	}
	if (Max + 1000).IsValid() {
		t.Errorf("beyond Max must not be valid")
	}
}

func TestNext(t *testing.T) {
	tid, _ := FromBlockOffset(5, OffsetsPerBlock-1)
	next, same := tid.Next()
	if !same {
		t.Errorf("Next within block should report sameBlock=true")
	}
	if next.Block() != 5 || next.Offset() != OffsetsPerBlock {
		t.Errorf("Next() = block %d off %d, want block 5 off %d", next.Block(), next.Offset(), OffsetsPerBlock)
	}

	last, _ := FromBlockOffset(5, OffsetsPerBlock)
	rolled, same := last.Next()
	if same {
		t.Errorf("Next() past the last offset in a block should report sameBlock=false")
	}
	if rolled.Block() != 6 || rolled.Offset() != 1 {
		t.Errorf("Next() past block boundary = block %d off %d, want block 6 off 1", rolled.Block(), rolled.Offset())
	}
}

func TestCompare(t *testing.T) {
	a, _ := FromBlockOffset(1, 1)
	b, _ := FromBlockOffset(1, 2)
	if Compare(a, b) >= 0 {
		t.Errorf("Compare(a,b) should be negative")
	}
	if Compare(b, a) <= 0 {
		t.Errorf("Compare(b,a) should be positive")
	}
	if Compare(a, a) != 0 {
		t.Errorf("Compare(a,a) should be zero")
	}
}

func TestInt64RoundTrip(t *testing.T) {
	tid, _ := FromBlockOffset(1000, 5)
	v := tid.ToInt64()
	back, err := FromInt64(v)
	if err != nil {
		t.Fatalf("FromInt64: %v", err)
	}
	if back != tid {
		t.Errorf("round trip through int64 changed value: %d != %d", back, tid)
	}
	if _, err := FromInt64(-1); err == nil {
		t.Errorf("negative value should be rejected: a tid is never negated")
	}
	if _, err := FromInt64(int64(Max) + 1); err == nil {
		t.Errorf("value beyond Max should be rejected")
	}
}

func TestParseString(t *testing.T) {
	tid, _ := FromBlockOffset(77, 3)
	parsed, err := Parse(tid.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != tid {
		t.Errorf("Parse(String()) = %d, want %d", parsed, tid)
	}
	if _, err := Parse("0"); err == nil {
		t.Errorf("Parse(\"0\") should reject Invalid")
	}
	if _, err := Parse("not-a-number"); err == nil {
		t.Errorf("Parse of garbage should fail")
	}
	if _, err := Parse("-5"); err == nil {
		t.Errorf("Parse of negative text should fail")
	}
}
