package mesh

import "time"

// Device is a node registered on the mesh network. A meshgate router shows
// up as a device whose hostname matches the router app name, possibly with a
// platform-assigned disambiguating suffix.
type Device struct {
	// ID is the provider's device identifier.
	ID string `json:"id"`

	// Hostname is the device's self-reported hostname.
	Hostname string `json:"hostname"`

	// Name is the device's fully qualified mesh name.
	Name string `json:"name"`

	// Addresses are the device's mesh addresses.
	Addresses []string `json:"addresses"`

	// Tags are the ACL tags applied to the device.
	Tags []string `json:"tags,omitempty"`

	// Online reports whether the device is currently connected.
	Online bool `json:"online"`

	// LastSeen is when the device last connected.
	LastSeen time.Time `json:"lastSeen"`
}

// Routes is the route-approval state of one device: what it advertises vs.
// what the control plane has enabled.
type Routes struct {
	// Advertised are the subnet routes the device announces.
	Advertised []string `json:"advertisedRoutes"`

	// Enabled are the advertised routes an operator (or auto-approver) has
	// approved.
	Enabled []string `json:"enabledRoutes"`
}

// Unapproved returns the advertised routes that are not yet enabled.
func (r Routes) Unapproved() []string {
	enabled := make(map[string]bool, len(r.Enabled))
	for _, route := range r.Enabled {
		enabled[route] = true
	}
	var out []string
	for _, route := range r.Advertised {
		if !enabled[route] {
			out = append(out, route)
		}
	}
	return out
}

// AuthKey is a device-registration credential. meshgate creates single-use,
// preauthorized, tag-scoped keys and hands them to router apps as secrets.
type AuthKey struct {
	// ID is the key's identifier, used for later revocation.
	ID string `json:"id"`

	// Key is the secret key material. Only returned at creation time.
	Key string `json:"key"`
}

// AuthKeyRequest describes the key to mint.
type AuthKeyRequest struct {
	// Tags are applied to any device registering with the key.
	Tags []string

	// Reusable permits more than one registration. Router keys are not
	// reusable.
	Reusable bool

	// Ephemeral devices are removed automatically when they go offline.
	Ephemeral bool

	// Preauthorized skips manual device approval.
	Preauthorized bool

	// Expiry bounds the key's validity.
	Expiry time.Duration
}
