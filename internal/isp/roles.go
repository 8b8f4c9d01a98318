package isp

// DeviceID names a physical stream endpoint.
type DeviceID int

// Physical devices, one video node each.
const (
	DeviceMain DeviceID = iota
	DevicePostview
	DevicePreview
	DeviceRecording
	DeviceInject
	numDevices
)

var deviceNames = [...]string{"main", "postview", "preview", "recording", "inject"}

func (d DeviceID) String() string {
	if d < 0 || d >= numDevices {
		return "unknown"
	}
	return deviceNames[d]
}

// Role is a logical stream served by some physical device.
type Role int

// Logical roles.
const (
	RoleMain Role = iota
	RolePostview
	RolePreview
	RoleRecording
	numRoles
)

var roleNames = [...]string{"main", "postview", "preview", "recording"}

func (r Role) String() string {
	if r < 0 || r >= numRoles {
		return "unknown"
	}
	return roleNames[r]
}

// roleTable maps each logical role to the device serving it. It is only
// mutated under the mode-transition lock.
type roleTable [numRoles]DeviceID

func defaultRoles() roleTable {
	return roleTable{
		RoleMain:      DeviceMain,
		RolePostview:  DevicePostview,
		RolePreview:   DevicePreview,
		RoleRecording: DeviceRecording,
	}
}

func (t *roleTable) device(r Role) DeviceID { return t[r] }

func (t *roleTable) assign(r Role, d DeviceID) { t[r] = d }

func (t *roleTable) swap(a, b Role) { t[a], t[b] = t[b], t[a] }

// reset restores every role to its own device.
func (t *roleTable) reset() { *t = defaultRoles() }

// resetRole restores a single role.
func (t *roleTable) resetRole(r Role) { t[r] = defaultRoles()[r] }

func (t *roleTable) isDefault() bool { return *t == defaultRoles() }

// snapshot renders the table for status reporting.
func (t *roleTable) snapshot() map[string]string {
	out := make(map[string]string, numRoles)
	for r := range numRoles {
		out[r.String()] = t[r].String()
	}
	return out
}
