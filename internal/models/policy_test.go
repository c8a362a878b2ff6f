package models

import (
	"errors"
	"testing"
	"time"
)

func TestExpiryPolicyValidate(t *testing.T) {
	cases := []struct {
		name   string
		policy ExpiryPolicy
		want   error
	}{
		{"default", DefaultExpiryPolicy(), nil},
		{"read start", ExpiryPolicy{DisappearSeconds: 60, StartOn: StartOnRead}, nil},
		{"delivered start", ExpiryPolicy{DisappearSeconds: 86400, StartOn: StartOnDelivered}, nil},
		{"negative seconds", ExpiryPolicy{DisappearSeconds: -1, StartOn: StartOnRead}, ErrNegativeDisappear},
		{"unknown trigger", ExpiryPolicy{DisappearSeconds: 60, StartOn: "sent"}, ErrInvalidStartOn},
		{"empty trigger", ExpiryPolicy{DisappearSeconds: 0, StartOn: ""}, ErrInvalidStartOn},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.policy.Validate()
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestExpiryPolicyEnabled(t *testing.T) {
	if DefaultExpiryPolicy().Enabled() {
		t.Fatal("default policy must be disabled")
	}
	p := ExpiryPolicy{DisappearSeconds: 300, StartOn: StartOnRead}
	if !p.Enabled() {
		t.Fatal("non-zero disappear_seconds means enabled")
	}
	if p.Disappear() != 5*time.Minute {
		t.Fatalf("expected 5m, got %v", p.Disappear())
	}
}

func TestDeliveryLive(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Minute)

	d := Delivery{DeliveredAt: now}
	if !d.Live() {
		t.Fatal("fresh delivery is live")
	}

	// Elapsed timer alone does not end the lifecycle; only the tombstone does.
	d.ExpiresAt = &past
	if !d.Live() {
		t.Fatal("expired-but-unswept delivery is still live")
	}

	d.DeletedAt = &now
	if d.Live() {
		t.Fatal("tombstoned delivery is terminal")
	}
}

func TestClosedEnums(t *testing.T) {
	for _, ct := range []ContentType{ContentText, ContentAttachment, ContentDeleted} {
		if !ct.Valid() {
			t.Fatalf("%s should be valid", ct)
		}
	}
	if ContentType("video").Valid() {
		t.Fatal("unknown content type accepted")
	}

	for _, r := range []DeletionReason{ReasonExpired, ReasonManual, ReasonRevoked} {
		if !r.Valid() {
			t.Fatalf("%s should be valid", r)
		}
	}
	if DeletionReason("oops").Valid() {
		t.Fatal("unknown deletion reason accepted")
	}
}
