package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRideStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status RideStatus
		want   bool
	}{
		{RideStatusRequested, false},
		{RideStatusMatching, false},
		{RideStatusDriverAssigned, false},
		{RideStatusInProgress, false},
		{RideStatusCompleted, true},
		{RideStatusCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestValidVehicleClass(t *testing.T) {
	for _, ok := range []string{"economy", "premium", "xl"} {
		if !ValidVehicleClass(ok) {
			t.Errorf("ValidVehicleClass(%q) = false, want true", ok)
		}
	}
	if ValidVehicleClass("luxury") {
		t.Error("ValidVehicleClass(luxury) = true, want false")
	}
}

func TestValidPaymentMethod(t *testing.T) {
	for _, ok := range []string{"cash", "card", "wallet"} {
		if !ValidPaymentMethod(ok) {
			t.Errorf("ValidPaymentMethod(%q) = false, want true", ok)
		}
	}
	if ValidPaymentMethod("crypto") {
		t.Error("ValidPaymentMethod(crypto) = true, want false")
	}
}

func TestRide_JSONRoundTrip(t *testing.T) {
	driverID := uuid.New()
	ride := Ride{
		ID:        uuid.New(),
		TenantID:  uuid.New(),
		RiderID:   uuid.New(),
		DriverID:  &driverID,
		Status:    RideStatusDriverAssigned,
		PickupLat: 12.9716, PickupLng: 77.5946,
		DropoffLat: 12.9352, DropoffLng: 77.6245,
		Tier:            VehicleClassEconomy,
		PaymentMethod:   PaymentMethodCash,
		SurgeMultiplier: 1.0,
		Version:         2,
		CreatedAt:       time.Now().UTC().Truncate(time.Second),
		UpdatedAt:       time.Now().UTC().Truncate(time.Second),
	}

	data, err := json.Marshal(ride)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got Ride
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Status != ride.Status || got.Version != ride.Version || *got.DriverID != *ride.DriverID {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, ride)
	}
}

func TestRide_DriverNilOmitted(t *testing.T) {
	ride := Ride{ID: uuid.New(), Status: RideStatusRequested}
	data, err := json.Marshal(ride)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, present := raw["driver_id"]; present {
		t.Error("driver_id should be omitted when nil")
	}
}

func TestFareBreakdown_JSON(t *testing.T) {
	fb := FareBreakdown{Base: 50, Distance: 60, Time: 30, Surge: 0, Taxes: 7, Total: 147, Currency: "INR"}
	data, err := json.Marshal(fb)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got FareBreakdown
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != fb {
		t.Errorf("got %+v, want %+v", got, fb)
	}
}

func TestPayment_IdempotencyKeyRoundTrip(t *testing.T) {
	p := Payment{
		ID:             uuid.New(),
		TripID:         uuid.New(),
		Amount:         147.00,
		Currency:       "INR",
		Method:         PaymentMethodCard,
		Status:         PaymentStatusCompleted,
		IdempotencyKey: "K1",
		CreatedAt:      time.Now(),
	}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !json.Valid(data) {
		t.Fatal("expected valid JSON")
	}
	var got Payment
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.IdempotencyKey != "K1" {
		t.Errorf("IdempotencyKey = %q, want K1", got.IdempotencyKey)
	}
}

func TestDriver_BusyInvariantFields(t *testing.T) {
	d := Driver{
		ID:           uuid.New(),
		TenantID:     uuid.New(),
		Phone:        "+15550000",
		VehicleClass: VehicleClassPremium,
		Status:       DriverStatusBusy,
		Rating:       4.8,
	}
	if d.Status != DriverStatusBusy {
		t.Fatal("expected busy status")
	}
	if d.Rating < 0 || d.Rating > 5 {
		t.Errorf("rating out of range: %v", d.Rating)
	}
}
