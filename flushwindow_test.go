package autofilter

import (
	"fmt"
	"testing"

	"github.com/DuyNguyen1879/autofilter/data"
)

func TestFlushWindow(t *testing.T) {
	fw := NewFlushWindow(3)

	for i := 0; i < 5; i++ {
		fw.Add(data.FlushStats{
			Minute:    fmt.Sprintf("2024-01-01T00:%02d", i),
			IPs:       i,
			TotalLoad: int64(i * 100),
		})
	}

	if fw.Size() != 3 {
		t.Fatalf("the window should keep 3 minutes but has %d", fw.Size())
	}

	summaries := fw.Summaries()
	if summaries[0].Minute != "2024-01-01T00:02" {
		t.Errorf("the oldest retained minute should be 00:02 but is %s", summaries[0].Minute)
	}
	if summaries[2].Minute != "2024-01-01T00:04" {
		t.Errorf("the newest minute should be 00:04 but is %s", summaries[2].Minute)
	}
}

func TestFlushWindowOverwritesMinute(t *testing.T) {
	fw := NewFlushWindow(10)

	fw.Add(data.FlushStats{Minute: "2024-01-01T00:00", TotalLoad: 100})
	fw.Add(data.FlushStats{Minute: "2024-01-01T00:00", TotalLoad: 200})

	if fw.Size() != 1 {
		t.Fatalf("the same minute should occupy one slot, got %d", fw.Size())
	}

	if got := fw.Summaries()[0].TotalLoad; got != 200 {
		t.Errorf("the later summary should win, got load %d", got)
	}
}
