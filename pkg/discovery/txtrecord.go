package discovery

import (
	"fmt"
	"sort"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeServiceTXT creates TXT records for a service advertisement.
func EncodeServiceTXT(info *ServiceInfo) TXTRecordMap {
	txt := make(TXTRecordMap)

	txt[TXTKeyVersion] = ProtocolVersion
	transport := info.Transport
	if transport == "" {
		transport = "tcp"
	}
	txt[TXTKeyTransport] = transport

	if info.Path != "" {
		txt[TXTKeyPath] = info.Path
	}
	if info.ID != "" {
		txt[TXTKeyID] = info.ID
	}

	return txt
}

// DecodeServiceTXT parses TXT records from a service advertisement into
// svc.
func DecodeServiceTXT(txt TXTRecordMap, svc *Service) error {
	version, ok := txt[TXTKeyVersion]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	if version == "" {
		return fmt.Errorf("%w: empty %s", ErrInvalidTXTRecord, TXTKeyVersion)
	}

	transport := txt[TXTKeyTransport]
	if transport == "" {
		transport = "tcp"
	}
	if !ValidTransport(transport) {
		return fmt.Errorf("%w: %q", ErrInvalidTransport, transport)
	}

	svc.Version = version
	svc.Transport = transport
	svc.Path = txt[TXTKeyPath]
	svc.ID = txt[TXTKeyID]
	return nil
}

// TXTRecordsToStrings converts a TXTRecordMap to a slice of "key=value"
// strings, sorted by key.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) == 2 {
			txt[parts[0]] = parts[1]
		} else if len(parts) == 1 && parts[0] != "" {
			// Key without value (boolean flag)
			txt[parts[0]] = ""
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidInstanceName)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
