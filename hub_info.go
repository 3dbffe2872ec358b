package legohub

// HubInfo describes a hub seen during scanning or interrogated after
// connecting.
type HubInfo struct {
	Name           string
	Address        string
	RSSI           int
	MAC            string
	BatteryPercent int
}
