package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrailLinksEntries(t *testing.T) {
	trail := NewTrail()

	trail.Appendf("deposit account=%s amount=%s", "acc-1", "25.00")
	trail.Append("withdraw account=acc-1 amount=10.00")
	trail.Append("transfer from=acc-1 to=acc-2 amount=5.00")

	entries := trail.Entries()
	assert.Len(t, entries, 3)
	assert.Equal(t, uint64(0), entries[0].Seq)
	assert.Equal(t, entries[0].Hash, entries[1].PreviousHash)
	assert.Equal(t, entries[1].Hash, entries[2].PreviousHash)
	assert.True(t, Verify(entries))
}

func TestVerifyDetectsTampering(t *testing.T) {
	trail := NewTrail()
	trail.Append("deposit account=acc-1 amount=25.00")
	trail.Append("withdraw account=acc-1 amount=10.00")
	trail.Append("transfer from=acc-1 to=acc-2 amount=5.00")

	// Edited payload.
	entries := trail.Entries()
	entries[1].Payload = "withdraw account=acc-1 amount=10000.00"
	assert.False(t, Verify(entries))

	// Recomputed hash on the edited entry still breaks the next link.
	entries = trail.Entries()
	entries[1].Payload = "withdraw account=acc-1 amount=10000.00"
	entries[1].Hash = entryHash(entries[1])
	assert.False(t, Verify(entries))

	// Dropped entry.
	entries = trail.Entries()
	assert.False(t, Verify(append(entries[:1], entries[2])))
}

func TestVerifyEmptyChain(t *testing.T) {
	assert.True(t, Verify(nil))
	assert.True(t, Verify(NewTrail().Entries()))
}
