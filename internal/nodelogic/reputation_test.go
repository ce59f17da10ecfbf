package nodelogic

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"storacore/internal/kadid"
)

func TestRecordViolationCrossesThresholdOnce(t *testing.T) {
	r := newReputation()
	peer := kadid.Key{0x01}

	var crossings int
	for i := 0; i < violationThreshold+2; i++ {
		if r.recordViolation(peer) {
			crossings++
		}
	}
	assert.Equal(t, 1, crossings)
}

func TestRecordReportCountsDistinctReporters(t *testing.T) {
	r := newReputation()
	bad := kadid.Key{0x02}

	n1 := r.recordReport(kadid.Key{0x10}, bad)
	n2 := r.recordReport(kadid.Key{0x11}, bad)
	// re-reporting from the same peer does not inflate the count.
	n3 := r.recordReport(kadid.Key{0x10}, bad)

	assert.Equal(t, 1, n1)
	assert.Equal(t, 2, n2)
	assert.Equal(t, 2, n3)
}

func TestReportViolationIgnoresNilPublisher(t *testing.T) {
	n, _ := newTestNodeLogic(t, nil)
	assert.NotPanics(t, func() { n.reportViolation(nil, "no publisher") })
}
