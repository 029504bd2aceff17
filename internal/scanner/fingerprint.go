package scanner

import (
	"regexp"
)

// Device types reported to sessions.
const (
	TypeRouter   = "router"
	TypeSwitch   = "switch"
	TypeComputer = "computer"
	TypePrinter  = "printer"
	TypeUnknown  = "unknown"
)

// ServiceFingerprint contains fingerprint information for a service.
type ServiceFingerprint struct {
	Name    string
	Version string
	Product string
	Vendor  string
	Type    string // device type implied by the service, if any
}

// Fingerprinter identifies services from banners and port numbers and
// derives a device type and vendor from them.
type Fingerprinter struct {
	signatures []signature
}

type signature struct {
	pattern *regexp.Regexp
	extract func([]string) ServiceFingerprint
}

// NewFingerprinter creates a new service fingerprinter.
func NewFingerprinter() *Fingerprinter {
	f := &Fingerprinter{}
	f.loadSignatures()
	return f
}

// Identify attempts to identify a service from port and banner.
func (f *Fingerprinter) Identify(port int, banner string) ServiceFingerprint {
	byPort := identifyByPort(port)

	// Banner matches win, with gaps filled from the well-known port
	if banner != "" {
		for _, sig := range f.signatures {
			if matches := sig.pattern.FindStringSubmatch(banner); matches != nil {
				fp := sig.extract(matches)
				if fp.Type == "" {
					fp.Type = byPort.Type
				}
				if fp.Vendor == "" {
					fp.Vendor = byPort.Vendor
				}
				return fp
			}
		}
	}

	return byPort
}

// Classify derives a device type and vendor from a probe result. Open
// services win over TTL hints; unknown values stay "unknown" and "".
func (f *Fingerprinter) Classify(result ProbeResult) (deviceType, vendor string) {
	deviceType = TypeUnknown

	for _, p := range result.OpenPorts {
		if vendor == "" && p.Service.Vendor != "" {
			vendor = p.Service.Vendor
		}
		if deviceType == TypeUnknown && p.Service.Type != "" {
			deviceType = p.Service.Type
		}
	}
	if deviceType != TypeUnknown || len(result.OpenPorts) > 0 {
		return deviceType, vendor
	}

	// Initial TTLs: 255 network gear, 128 Windows, 64 everything else.
	switch {
	case result.TTL > 128:
		deviceType = TypeRouter
	case result.TTL > 64:
		deviceType = TypeComputer
	}
	return deviceType, vendor
}

func (f *Fingerprinter) loadSignatures() {
	f.signatures = []signature{
		// MikroTik RouterOS
		{
			pattern: regexp.MustCompile(`(?i)(?:RouterOS|MikroTik)(?:\s+v?(\d+\.\d+(?:\.\d+)?))?`),
			extract: func(m []string) ServiceFingerprint {
				return ServiceFingerprint{Name: "RouterOS", Version: m[1], Product: "RouterOS", Vendor: "MikroTik", Type: TypeRouter}
			},
		},
		// Cisco IOS
		{
			pattern: regexp.MustCompile(`(?i)Cisco(?:\s+IOS)?`),
			extract: func(m []string) ServiceFingerprint {
				return ServiceFingerprint{Name: "Cisco", Product: "IOS", Vendor: "Cisco", Type: TypeSwitch}
			},
		},
		// Zyxel
		{
			pattern: regexp.MustCompile(`(?i)ZyXEL`),
			extract: func(m []string) ServiceFingerprint {
				return ServiceFingerprint{Name: "HTTP", Vendor: "Zyxel", Type: TypeSwitch}
			},
		},
		// HP JetDirect
		{
			pattern: regexp.MustCompile(`(?i)JetDirect|HP[- ]ChaiSOE`),
			extract: func(m []string) ServiceFingerprint {
				return ServiceFingerprint{Name: "JetDirect", Vendor: "HP", Type: TypePrinter}
			},
		},
		// SSH
		{
			pattern: regexp.MustCompile(`SSH-(\d+\.\d+)-(\S+)`),
			extract: func(m []string) ServiceFingerprint {
				return ServiceFingerprint{Name: "SSH", Version: m[1], Product: m[2]}
			},
		},
		// Microsoft IIS
		{
			pattern: regexp.MustCompile(`(?i)Microsoft-IIS/(\d+\.\d+)`),
			extract: func(m []string) ServiceFingerprint {
				return ServiceFingerprint{Name: "HTTP", Version: m[1], Product: "IIS", Vendor: "Microsoft", Type: TypeComputer}
			},
		},
		// HTTP servers
		{
			pattern: regexp.MustCompile(`(?i)HTTP/(\d+\.\d+)\s+\d+`),
			extract: func(m []string) ServiceFingerprint {
				return ServiceFingerprint{Name: "HTTP", Version: m[1]}
			},
		},
		// FTP
		{
			pattern: regexp.MustCompile(`(?i)^220[- ].*FTP`),
			extract: func(m []string) ServiceFingerprint {
				return ServiceFingerprint{Name: "FTP"}
			},
		},
	}
}

var portServices = map[int]ServiceFingerprint{
	21:   {Name: "FTP"},
	22:   {Name: "SSH"},
	23:   {Name: "Telnet"},
	53:   {Name: "DNS"},
	80:   {Name: "HTTP"},
	161:  {Name: "SNMP"},
	443:  {Name: "HTTPS"},
	445:  {Name: "SMB", Type: TypeComputer},
	515:  {Name: "LPD", Type: TypePrinter},
	631:  {Name: "IPP", Type: TypePrinter},
	3389: {Name: "RDP", Type: TypeComputer},
	8080: {Name: "HTTP-Alt"},
	8291: {Name: "Winbox", Vendor: "MikroTik", Type: TypeRouter},
	9100: {Name: "JetDirect", Type: TypePrinter},
}

func identifyByPort(port int) ServiceFingerprint {
	if fp, ok := portServices[port]; ok {
		return fp
	}
	return ServiceFingerprint{Name: "Unknown"}
}
