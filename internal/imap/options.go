package imap

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"mailfinder/internal/logging"
	"mailfinder/internal/models"
)

const defaultTimeout = 30 * time.Second

// Property keys understood by the dialer, relative to the IMAP store.
const (
	PropHost              = "host"
	PropPort              = "port"
	PropSSLEnable         = "ssl.enable"
	PropSSLTrust          = "ssl.trust"
	PropSSLCheckIdentity  = "ssl.checkserveridentity"
	PropStartTLSEnable    = "starttls.enable"
	PropAuthMechanisms    = "auth.mechanisms"
	PropTimeout           = "timeout"
	PropConnectionTimeout = "connectiontimeout"
)

// Authentication mechanisms
const (
	MechLogin       = "LOGIN"
	MechPlain       = "PLAIN"
	MechOAuthBearer = "OAUTHBEARER"
)

type dialOptions struct {
	Host               string
	Port               int
	SSL                bool
	StartTLS           bool
	InsecureSkipVerify bool
	Mechanism          string
	Timeout            time.Duration
	ConnectTimeout     time.Duration
}

func (o dialOptions) Address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

func parseOptions(creds models.Credentials) (dialOptions, error) {
	opts := dialOptions{
		SSL:       true,
		Mechanism: MechLogin,
		Timeout:   defaultTimeout,
	}
	var err error

	for key, value := range creds.Properties() {
		value = strings.TrimSpace(value)
		switch key {
		case PropHost:
			opts.Host = value
		case PropPort:
			opts.Port, err = strconv.Atoi(value)
			if err == nil && (opts.Port <= 0 || opts.Port > 65535) {
				err = fmt.Errorf("out of range")
			}
		case PropSSLEnable:
			opts.SSL, err = strconv.ParseBool(value)
		case PropStartTLSEnable:
			opts.StartTLS, err = strconv.ParseBool(value)
		case PropSSLTrust:
			opts.InsecureSkipVerify = opts.InsecureSkipVerify || value == "*"
		case PropSSLCheckIdentity:
			var check bool
			check, err = strconv.ParseBool(value)
			opts.InsecureSkipVerify = opts.InsecureSkipVerify || !check
		case PropAuthMechanisms:
			opts.Mechanism, err = parseMechanism(value)
		case PropTimeout:
			opts.Timeout, err = parseTimeout(value)
		case PropConnectionTimeout:
			opts.ConnectTimeout, err = parseTimeout(value)
		default:
			logging.Log.Debugf("Ignoring unsupported mail property %q", key)
		}
		if err != nil {
			return dialOptions{}, fmt.Errorf("%w: invalid property %s=%q: %v", ErrConnection, key, value, err)
		}
	}

	if opts.Host == "" {
		return dialOptions{}, fmt.Errorf("%w: property %q is required", ErrConnection, PropHost)
	}
	if opts.SSL && opts.StartTLS {
		return dialOptions{}, fmt.Errorf("%w: %s and %s are mutually exclusive", ErrConnection, PropSSLEnable, PropStartTLSEnable)
	}
	if opts.Port == 0 {
		opts.Port = 143
		if opts.SSL {
			opts.Port = 993
		}
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = opts.Timeout
	}

	return opts, nil
}

// parseMechanism picks the first supported mechanism of a space separated list.
func parseMechanism(value string) (string, error) {
	for _, m := range strings.Fields(strings.ToUpper(value)) {
		switch m {
		case MechLogin, MechPlain, MechOAuthBearer:
			return m, nil
		}
	}
	return "", fmt.Errorf("no supported mechanism in %q", value)
}

// parseTimeout accepts Go durations ("30s") and plain milliseconds ("30000").
func parseTimeout(value string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("negative timeout")
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative timeout")
	}
	return d, nil
}
