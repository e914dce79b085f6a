package livecache

import (
	"testing"
)

func TestParseExpiredKey(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		wantID string
		wantOK bool
	}{
		{"snapshot key", "bundl:order:abc-123", "abc-123", true},
		{"participants key skipped", "bundl:order:abc-123:participants", "", false},
		{"geo key skipped", "bundl:orders:geo", "", false},
		{"foreign namespace", "other:order:abc-123", "", false},
		{"empty id", "bundl:order:", "", false},
		{"unrelated key", "session:xyz", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := ParseExpiredKey("bundl", tt.key)
			if ok != tt.wantOK || id != tt.wantID {
				t.Errorf("ParseExpiredKey(%q) = (%q, %v), want (%q, %v)", tt.key, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestKeyFamily(t *testing.T) {
	c := &Cache{namespace: "bundl"}

	if got := c.orderKey("o1"); got != "bundl:order:o1" {
		t.Errorf("orderKey = %q", got)
	}
	if got := c.participantsKey("o1"); got != "bundl:order:o1:participants" {
		t.Errorf("participantsKey = %q", got)
	}
	if got := c.geoKey(); got != "bundl:orders:geo" {
		t.Errorf("geoKey = %q", got)
	}

	// Every snapshot key must round-trip through the expiry parser.
	id, ok := ParseExpiredKey("bundl", c.orderKey("o1"))
	if !ok || id != "o1" {
		t.Errorf("ParseExpiredKey(orderKey) = (%q, %v)", id, ok)
	}
	if _, ok := ParseExpiredKey("bundl", c.participantsKey("o1")); ok {
		t.Error("participants key must not parse as an order expiry")
	}
}

func TestParsePledgeReply(t *testing.T) {
	t.Run("rejection", func(t *testing.T) {
		res, err := parsePledgeReply([]interface{}{int64(0), "order_fully_pledged", "", int64(0)})
		if err != nil {
			t.Fatalf("parsePledgeReply() error: %v", err)
		}
		if res.OK || res.Reason != ReasonFullyPledged {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("accepted", func(t *testing.T) {
		snapshot := `{"id":"o1","status":"ACTIVE","creatorId":"u1","amountNeeded":100,` +
			`"pledgeMap":{"u1":40,"u2":30},"totalPledge":70,"totalUsers":2,` +
			`"platform":"zomato","latitude":12.9,"longitude":77.5}`
		res, err := parsePledgeReply([]interface{}{int64(1), "", snapshot, int64(0)})
		if err != nil {
			t.Fatalf("parsePledgeReply() error: %v", err)
		}
		if !res.OK || res.Completed {
			t.Fatalf("result = %+v", res)
		}
		if res.Order.TotalPledge != 70 || res.Order.PledgeMap["u2"] != 30 {
			t.Errorf("decoded order = %+v", res.Order)
		}
	})

	t.Run("completed", func(t *testing.T) {
		snapshot := `{"id":"o1","status":"COMPLETED","creatorId":"u1","amountNeeded":100,` +
			`"pledgeMap":{"u1":40,"u2":70},"totalPledge":110,"totalUsers":2}`
		res, err := parsePledgeReply([]interface{}{int64(1), "", snapshot, int64(1)})
		if err != nil {
			t.Fatalf("parsePledgeReply() error: %v", err)
		}
		if !res.OK || !res.Completed {
			t.Fatalf("result = %+v", res)
		}
		if res.Order.Status != "COMPLETED" {
			t.Errorf("status = %s", res.Order.Status)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		if _, err := parsePledgeReply("nope"); err == nil {
			t.Error("expected error for non-array reply")
		}
		if _, err := parsePledgeReply([]interface{}{int64(0), "", "", int64(0)}); err == nil {
			t.Error("expected error for rejection without reason")
		}
	})
}
