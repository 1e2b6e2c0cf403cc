package models

// Credentials holds what is needed to open a mailbox session. Properties are
// protocol specific settings keyed by dotted names (e.g. "ssl.enable").
type Credentials struct {
	Username   string
	Password   string
	properties map[string]string
}

// NewCredentials copies properties so the returned value cannot be changed
// through the caller's map.
func NewCredentials(username, password string, properties map[string]string) Credentials {
	props := make(map[string]string, len(properties))
	for k, v := range properties {
		props[k] = v
	}
	return Credentials{
		Username:   username,
		Password:   password,
		properties: props,
	}
}

// Property returns the value stored under key.
func (c Credentials) Property(key string) (string, bool) {
	v, ok := c.properties[key]
	return v, ok
}

// Properties returns a copy of all protocol properties.
func (c Credentials) Properties() map[string]string {
	props := make(map[string]string, len(c.properties))
	for k, v := range c.properties {
		props[k] = v
	}
	return props
}
