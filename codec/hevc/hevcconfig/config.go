/*
NAME
  config.go

AUTHORS
  Saxon Nelson-Milton <saxon@ausocean.org>, The Australian Ocean Laboratory (AusOcean)

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package hevcconfig contains the configuration settings for the hevcdec
// decoder, modeled on revid/config's enumerated-key, Validate-checked
// Config the way that package configures a long-lived av pipeline.
package hevcconfig

import "fmt"

// AccelerationCode names a hevcdec.Kernels table (§6 "ACCELERATION_CODE",
// §9 "Kernel dispatch"). Declared here rather than in hevcdec so a Config
// value can be constructed and validated without importing the decoder
// package. hevcdec declares its own AccelerationCode for SelectKernels;
// the decoder does not read Config.AccelerationCode, and no code converts
// between the two types.
type AccelerationCode int

const (
	Scalar AccelerationCode = iota
	SSE
	AVX2
)

func (a AccelerationCode) String() string {
	switch a {
	case Scalar:
		return "scalar"
	case SSE:
		return "sse"
	case AVX2:
		return "avx2"
	default:
		return fmt.Sprintf("AccelerationCode(%d)", int(a))
	}
}

// Key names one of the configurable parameters of §6 "Configuration keys".
type Key int

const (
	SEICheckHash Key = iota
	SuppressFaultyPicturesKey
	DumpVPSHeadersKey
	DumpSPSHeadersKey
	DumpPPSHeadersKey
	DumpSliceHeadersKey
	AccelerationCodeKey
)

// Config provides the parameters relevant to one hevcdec.Decoder instance,
// per §6 "Configuration keys". A new Config must be passed through
// Validate before use; Default returns a Config with every field at its
// documented default.
type Config struct {
	// SEICheckHash enables verification of decoded-picture-hash SEI
	// messages; a mismatch raises ChecksumMismatch.
	SEICheckHash bool

	// SuppressFaultyPictures withholds from output any picture whose
	// Integrity is not Decoded.
	SuppressFaultyPictures bool

	// DumpVPSHeaders, DumpSPSHeaders, DumpPPSHeaders and DumpSliceHeaders
	// are file descriptors to write human-readable parameter-set/slice-
	// header dumps to; 0 means "do not dump" (matching an unset fd).
	DumpVPSHeaders   int
	DumpSPSHeaders   int
	DumpPPSHeaders   int
	DumpSliceHeaders int

	// AccelerationCode names a kernel table; the decoder does not read it.
	AccelerationCode AccelerationCode
}

// Default returns a Config with every field at its documented default:
// no SEI hash check, no suppression, no header dumps, scalar kernels.
func Default() Config {
	return Config{AccelerationCode: Scalar}
}

// Validate checks c's fields for internal consistency, defaulting or
// rejecting values the way revid/config.Config.Validate does for its
// fields.
func (c *Config) Validate() error {
	if c.AccelerationCode < Scalar || c.AccelerationCode > AVX2 {
		return fmt.Errorf("hevcconfig: invalid AccelerationCode %d", c.AccelerationCode)
	}
	for _, fd := range []int{c.DumpVPSHeaders, c.DumpSPSHeaders, c.DumpPPSHeaders, c.DumpSliceHeaders} {
		if fd < 0 {
			return fmt.Errorf("hevcconfig: dump file descriptor must be >= 0, got %d", fd)
		}
	}
	return nil
}

// SetBool sets one of the bool-valued keys, the external
// set_parameter_bool operation of §6.
func (c *Config) SetBool(key Key, value bool) error {
	switch key {
	case SEICheckHash:
		c.SEICheckHash = value
	case SuppressFaultyPicturesKey:
		c.SuppressFaultyPictures = value
	default:
		return fmt.Errorf("hevcconfig: key %d is not bool-valued", key)
	}
	return nil
}

// SetInt sets one of the int-valued keys, the external set_parameter_int
// operation of §6.
func (c *Config) SetInt(key Key, value int) error {
	switch key {
	case DumpVPSHeadersKey:
		c.DumpVPSHeaders = value
	case DumpSPSHeadersKey:
		c.DumpSPSHeaders = value
	case DumpPPSHeadersKey:
		c.DumpPPSHeaders = value
	case DumpSliceHeadersKey:
		c.DumpSliceHeaders = value
	case AccelerationCodeKey:
		c.AccelerationCode = AccelerationCode(value)
	default:
		return fmt.Errorf("hevcconfig: key %d is not int-valued", key)
	}
	return c.Validate()
}
