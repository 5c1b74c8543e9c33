package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeActivity struct {
	lastActivity map[string]time.Time
	devices      map[string][]string
	activityErr  error

	activityCalls int
	deviceCalls   int
}

func (f *fakeActivity) LastActivityDates(ctx context.Context, subjectIDs []string) (map[string]time.Time, error) {
	f.activityCalls++
	if f.activityErr != nil {
		return nil, f.activityErr
	}
	result := make(map[string]time.Time)
	for _, id := range subjectIDs {
		if last, ok := f.lastActivity[id]; ok {
			result[id] = last
		}
	}
	return result, nil
}

func (f *fakeActivity) DeviceIdentifiers(ctx context.Context, subjectIDs []string) (map[string][]string, error) {
	f.deviceCalls++
	result := make(map[string][]string)
	for _, id := range subjectIDs {
		if devices, ok := f.devices[id]; ok {
			result[id] = devices
		}
	}
	return result, nil
}

func TestEligibilityGate_Check(t *testing.T) {
	refDate := time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC)
	activity := &fakeActivity{
		lastActivity: map[string]time.Time{
			"active-today":    refDate,
			"active-recently": refDate.AddDate(0, 0, -5),
			"exactly-window":  refDate.AddDate(0, 0, -14),
			"long-gone":       refDate.AddDate(0, 0, -90),
		},
	}

	gate := CreateEligibilityGate(activity, 14*24*time.Hour)
	got, err := gate.Check(context.Background(),
		[]string{"active-today", "active-recently", "exactly-window", "long-gone", "never-seen"}, refDate)
	if err != nil {
		t.Fatalf("Check() error = %v, want nil", err)
	}

	want := map[string]bool{
		"active-today":    false,
		"active-recently": false,
		"exactly-window":  true,
		"long-gone":       true,
		"never-seen":      true,
	}
	for id, wantEligible := range want {
		if got[id] != wantEligible {
			t.Errorf("Check()[%q] = %v, want %v", id, got[id], wantEligible)
		}
	}
}

func TestEligibilityGate_SingleBatchLookup(t *testing.T) {
	activity := &fakeActivity{}
	gate := CreateEligibilityGate(activity, 14*24*time.Hour)

	_, err := gate.Check(context.Background(), []string{"a1b2c3d4", "e5f6a7b8", "c9d0e1f2"}, time.Now())
	if err != nil {
		t.Fatalf("Check() error = %v, want nil", err)
	}
	if activity.activityCalls != 1 {
		t.Errorf("activity lookups = %d, want 1", activity.activityCalls)
	}
}

func TestEligibilityGate_LookupError(t *testing.T) {
	activity := &fakeActivity{activityErr: errors.New("warehouse down")}
	gate := CreateEligibilityGate(activity, 14*24*time.Hour)

	_, err := gate.Check(context.Background(), []string{"a1b2c3d4"}, time.Now())
	if err == nil {
		t.Fatal("Check() expected error")
	}
}
