package enums

import "fmt"

// Vehicle is the courier transport requested for a standalone shipment.
type Vehicle string

const (
	VehicleBike       Vehicle = "bici"
	VehicleMotorcycle Vehicle = "moto"
	VehicleCar        Vehicle = "auto"
)

// IsValid reports whether the value is a known Vehicle.
func (v Vehicle) IsValid() bool {
	switch v {
	case VehicleBike, VehicleMotorcycle, VehicleCar:
		return true
	}
	return false
}

// ParseVehicle converts raw input into a Vehicle.
func ParseVehicle(value string) (Vehicle, error) {
	v := Vehicle(value)
	if !v.IsValid() {
		return "", fmt.Errorf("invalid vehicle %q", value)
	}
	return v, nil
}
