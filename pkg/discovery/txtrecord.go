package discovery

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/midici-protocol/midici-go/pkg/muid"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeTXT creates TXT records for a port.
func EncodeTXT(info *PortInfo) TXTRecordMap {
	txt := make(TXTRecordMap)

	// Required fields
	txt[TXTKeyTransport] = string(info.Transport)
	txt[TXTKeyName] = info.Name
	txt[TXTKeyManufacturer] = strconv.FormatUint(uint64(info.Manufacturer), 16)
	txt[TXTKeyModel] = strconv.FormatUint(uint64(info.Model), 10)

	// Optional fields
	if info.ProductInstanceID != "" {
		txt[TXTKeyProductInstanceID] = info.ProductInstanceID
	}
	if info.MUID != 0 {
		txt[TXTKeyMUID] = strconv.FormatUint(uint64(info.MUID), 16)
	}
	if info.CIVersion != 0 {
		txt[TXTKeyVersion] = strconv.Itoa(int(info.CIVersion))
	}

	return txt
}

// DecodeTXT parses port TXT records.
func DecodeTXT(txt TXTRecordMap) (*PortInfo, error) {
	info := &PortInfo{}

	tp, ok := txt[TXTKeyTransport]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyTransport)
	}
	info.Transport = Transport(tp)
	if !info.Transport.Valid() {
		return nil, fmt.Errorf("%w: transport %q", ErrInvalidTXTRecord, tp)
	}

	info.Name, ok = txt[TXTKeyName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyName)
	}

	mf, ok := txt[TXTKeyManufacturer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyManufacturer)
	}
	v, err := strconv.ParseUint(mf, 16, 21)
	if err != nil {
		return nil, fmt.Errorf("%w: manufacturer %q", ErrInvalidTXTRecord, mf)
	}
	info.Manufacturer = uint32(v)

	md, ok := txt[TXTKeyModel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyModel)
	}
	v, err = strconv.ParseUint(md, 10, 14)
	if err != nil {
		return nil, fmt.Errorf("%w: model %q", ErrInvalidTXTRecord, md)
	}
	info.Model = uint16(v)

	// Optional fields
	info.ProductInstanceID = txt[TXTKeyProductInstanceID]
	if s, ok := txt[TXTKeyMUID]; ok {
		v, err := strconv.ParseUint(s, 16, 32)
		if err != nil || !muid.MUID(v).IsValid() {
			return nil, fmt.Errorf("%w: muid %q", ErrInvalidTXTRecord, s)
		}
		info.MUID = muid.MUID(v)
	}
	if s, ok := txt[TXTKeyVersion]; ok {
		v, err := strconv.ParseUint(s, 10, 7)
		if err != nil {
			return nil, fmt.Errorf("%w: version %q", ErrInvalidTXTRecord, s)
		}
		info.CIVersion = byte(v)
	}

	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to a slice of "key=value" strings.
// This format is commonly used by mDNS libraries.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, _ := strings.Cut(s, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
