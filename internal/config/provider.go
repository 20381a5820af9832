package config

import (
	"strconv"
	"strings"
)

// ProviderSettings returns the settings map handed to the record store
// factory: the free-form settings block plus the credentials.
func (c *Config) ProviderSettings() map[string]string {
	settings := make(map[string]string, len(c.Settings)+2)
	for k, v := range c.Settings {
		settings[k] = v
	}
	if c.APIToken != "" {
		settings["api_token"] = c.APIToken
	}
	if c.Email != "" {
		settings["email"] = c.Email
	}
	return settings
}

// Masked returns a copy that is safe to log or display: credentials and
// secret-looking settings are replaced by a masked form.
func (c *Config) Masked() Config {
	out := *c
	out.CustomIPs = append(List(nil), c.CustomIPs...)
	out.APIToken = Mask(c.APIToken)
	out.Password = Mask(c.Password)
	out.Email = maskEmail(c.Email)
	if c.Settings != nil {
		out.Settings = make(map[string]string, len(c.Settings))
		for k, v := range c.Settings {
			if isSecretKey(k) {
				v = Mask(v)
			}
			out.Settings[k] = v
		}
	}
	return out
}

// Mask keeps the first and last two characters of long secrets and hides
// the rest. Short secrets are hidden entirely.
func Mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return strings.Repeat("*", len(s))
	default:
		return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
	}
}

func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return Mask(email)
	}
	return email[:1] + "***" + email[at:]
}

func isSecretKey(k string) bool {
	k = strings.ToLower(k)
	for _, marker := range []string{"token", "secret", "key", "password"} {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}

// String renders a short, secret-free description for logs.
func (c *Config) String() string {
	return c.Provider + " zone=" + c.ZoneID + " domain=" + c.Domain +
		" custom_ips=" + strconv.Itoa(len(c.CustomIPs)) + " ip_api=" + c.IPAPI
}
