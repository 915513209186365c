package discovery

import (
	"errors"
	"net"
	"reflect"
	"strings"
	"testing"

	"github.com/enbility/zeroconf/v3"
)

func TestServiceTXTRoundtrip(t *testing.T) {
	info := &ServiceInfo{
		InstanceName: "kitchen",
		Transport:    "wss",
		Path:         "/api/templates",
		ID:           "svc-1",
	}

	txt := EncodeServiceTXT(info)
	var svc Service
	if err := DecodeServiceTXT(txt, &svc); err != nil {
		t.Fatalf("DecodeServiceTXT failed: %v", err)
	}

	if svc.Version != ProtocolVersion {
		t.Errorf("Version = %q, want %q", svc.Version, ProtocolVersion)
	}
	if svc.Transport != "wss" {
		t.Errorf("Transport = %q, want wss", svc.Transport)
	}
	if svc.Path != info.Path {
		t.Errorf("Path = %q, want %q", svc.Path, info.Path)
	}
	if svc.ID != info.ID {
		t.Errorf("ID = %q, want %q", svc.ID, info.ID)
	}
}

func TestEncodeServiceTXTDefaults(t *testing.T) {
	txt := EncodeServiceTXT(&ServiceInfo{InstanceName: "x"})

	if txt[TXTKeyTransport] != "tcp" {
		t.Errorf("transport = %q, want tcp", txt[TXTKeyTransport])
	}
	if _, ok := txt[TXTKeyPath]; ok {
		t.Error("path should be omitted when empty")
	}
	if _, ok := txt[TXTKeyID]; ok {
		t.Error("id should be omitted when empty")
	}
}

func TestDecodeServiceTXTErrors(t *testing.T) {
	tests := []struct {
		name string
		txt  TXTRecordMap
		want error
	}{
		{"missing version", TXTRecordMap{TXTKeyTransport: "tcp"}, ErrMissingRequired},
		{"empty version", TXTRecordMap{TXTKeyVersion: ""}, ErrInvalidTXTRecord},
		{"bad transport", TXTRecordMap{TXTKeyVersion: "1", TXTKeyTransport: "udp"}, ErrInvalidTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var svc Service
			err := DecodeServiceTXT(tt.txt, &svc)
			if !errors.Is(err, tt.want) {
				t.Errorf("DecodeServiceTXT() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTXTRecordsToStrings(t *testing.T) {
	got := TXTRecordsToStrings(TXTRecordMap{"v": "1", "tr": "tcp", "id": "a=b"})
	want := []string{"id=a=b", "tr=tcp", "v=1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TXTRecordsToStrings() = %v, want %v", got, want)
	}
}

func TestStringsToTXTRecords(t *testing.T) {
	got := StringsToTXTRecords([]string{"v=1", "id=a=b", "flag", ""})
	want := TXTRecordMap{"v": "1", "id": "a=b", "flag": ""}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("StringsToTXTRecords() = %v, want %v", got, want)
	}
}

func TestValidateInstanceName(t *testing.T) {
	if err := ValidateInstanceName("kitchen"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateInstanceName(""); !errors.Is(err, ErrInvalidInstanceName) {
		t.Errorf("empty name: got %v", err)
	}
	if err := ValidateInstanceName(strings.Repeat("a", MaxInstanceNameLen+1)); !errors.Is(err, ErrInstanceNameTooLong) {
		t.Errorf("long name: got %v", err)
	}
}

func TestServiceURL(t *testing.T) {
	tests := []struct {
		name string
		svc  Service
		want string
	}{
		{
			name: "prefers IPv4",
			svc:  Service{Host: "svc.local.", Port: 8125, Addresses: []string{"fe80::1", "192.168.1.5"}, Transport: "tcp"},
			want: "tcp://192.168.1.5:8125",
		},
		{
			name: "IPv6 only",
			svc:  Service{Port: 8125, Addresses: []string{"fe80::1"}, Transport: "tls"},
			want: "tls://[fe80::1]:8125",
		},
		{
			name: "host fallback",
			svc:  Service{Host: "svc.local.", Port: 9000},
			want: "tcp://svc.local.:9000",
		},
		{
			name: "websocket path",
			svc:  Service{Addresses: []string{"10.0.0.2"}, Port: 8123, Transport: "ws", Path: "api/templates"},
			want: "ws://10.0.0.2:8123/api/templates",
		},
		{
			name: "path ignored for tcp",
			svc:  Service{Addresses: []string{"10.0.0.2"}, Port: 8125, Path: "/x"},
			want: "tcp://10.0.0.2:8125",
		},
		{
			name: "default port",
			svc:  Service{Addresses: []string{"10.0.0.2"}},
			want: "tcp://10.0.0.2:8125",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.svc.URL()
			if err != nil {
				t.Fatalf("URL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("URL() = %q, want %q", got, tt.want)
			}
		})
	}

	var empty Service
	if _, err := empty.URL(); !errors.Is(err, ErrNoAddress) {
		t.Errorf("URL() on empty service: got %v", err)
	}
}

func TestEntryToService(t *testing.T) {
	entry := &zeroconf.ServiceEntry{}
	entry.Instance = "kitchen"
	entry.HostName = "kitchen.local."
	entry.Port = 8125
	entry.Text = []string{"v=1", "tr=ws", "path=/api"}
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.5")}
	entry.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}

	svc := entryToService(entry)
	if svc == nil {
		t.Fatal("entryToService returned nil")
	}
	if svc.InstanceName != "kitchen" || svc.Host != "kitchen.local." || svc.Port != 8125 {
		t.Errorf("unexpected identity: %+v", svc)
	}
	if !reflect.DeepEqual(svc.Addresses, []string{"192.168.1.5", "fe80::1"}) {
		t.Errorf("Addresses = %v", svc.Addresses)
	}
	if svc.Transport != "ws" || svc.Path != "/api" {
		t.Errorf("TXT not decoded: %+v", svc)
	}

	entry.Text = []string{"tr=tcp"}
	if entryToService(entry) != nil {
		t.Error("entry without version should be ignored")
	}
}

func TestMergeAndRemoveAddresses(t *testing.T) {
	addrs := mergeAddresses([]string{"10.0.0.1"}, []string{"10.0.0.1", "10.0.0.2"})
	if !reflect.DeepEqual(addrs, []string{"10.0.0.1", "10.0.0.2"}) {
		t.Errorf("mergeAddresses() = %v", addrs)
	}

	entry := &zeroconf.ServiceEntry{}
	entry.AddrIPv4 = []net.IP{net.ParseIP("10.0.0.1")}
	addrs = removeAddresses(addrs, entry)
	if !reflect.DeepEqual(addrs, []string{"10.0.0.2"}) {
		t.Errorf("removeAddresses() = %v", addrs)
	}
}

func TestFilters(t *testing.T) {
	svc := &Service{InstanceName: "kitchen", Transport: "ws"}

	if !FilterByInstance("")(svc) || !FilterByInstance("kitchen")(svc) || FilterByInstance("garage")(svc) {
		t.Error("FilterByInstance mismatch")
	}
	if !FilterByTransport("tcp", "ws")(svc) || FilterByTransport("tcp")(svc) {
		t.Error("FilterByTransport mismatch")
	}
}
