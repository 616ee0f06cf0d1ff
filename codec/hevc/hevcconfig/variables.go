/*
DESCRIPTION
  variables.go maps the string names a host uses (CLI flags, key/value
  config files) onto this package's typed Key consts, following the
  Name+Update+Validate shape of revid/config/variables.go's Variables
  table, scaled down to the handful of keys §6 "Configuration keys" names.

AUTHORS
  Saxon Nelson-Milton <saxon@ausocean.org>, The Australian Ocean Laboratory (AusOcean)

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package hevcconfig

import (
	"fmt"
	"strconv"
)

// Config map key names, the string form a host's key/value configuration
// uses to address a Key.
const (
	KeySEICheckHash           = "SEICheckHash"
	KeySuppressFaultyPictures = "SuppressFaultyPictures"
	KeyDumpVPSHeaders         = "DumpVPSHeaders"
	KeyDumpSPSHeaders         = "DumpSPSHeaders"
	KeyDumpPPSHeaders         = "DumpPPSHeaders"
	KeyDumpSliceHeaders       = "DumpSliceHeaders"
	KeyAccelerationCode       = "AccelerationCode"
)

// variable pairs a config map key Name with an Update function that
// parses a string value and applies it to c.
type variable struct {
	Name   string
	Update func(c *Config, value string) error
}

// Variables lists every configurable key by name, the table Config.Update
// walks, mirroring revid/config.Variables' Name-indexed dispatch.
var Variables = []variable{
	{KeySEICheckHash, func(c *Config, v string) error { return updateBool(c, SEICheckHash, v) }},
	{KeySuppressFaultyPictures, func(c *Config, v string) error { return updateBool(c, SuppressFaultyPicturesKey, v) }},
	{KeyDumpVPSHeaders, func(c *Config, v string) error { return updateInt(c, DumpVPSHeadersKey, v) }},
	{KeyDumpSPSHeaders, func(c *Config, v string) error { return updateInt(c, DumpSPSHeadersKey, v) }},
	{KeyDumpPPSHeaders, func(c *Config, v string) error { return updateInt(c, DumpPPSHeadersKey, v) }},
	{KeyDumpSliceHeaders, func(c *Config, v string) error { return updateInt(c, DumpSliceHeadersKey, v) }},
	{KeyAccelerationCode, func(c *Config, v string) error { return updateInt(c, AccelerationCodeKey, v) }},
}

func updateBool(c *Config, key Key, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("hevcconfig: invalid bool value %q: %w", v, err)
	}
	return c.SetBool(key, b)
}

func updateInt(c *Config, key Key, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("hevcconfig: invalid int value %q: %w", v, err)
	}
	return c.SetInt(key, n)
}

// Update takes a map of configuration variable names to string values and
// applies each recognized one to c, the way revid/config.Config.Update
// does for its own Variables table. Unrecognized names are ignored.
func (c *Config) Update(vars map[string]string) error {
	for _, variable := range Variables {
		v, ok := vars[variable.Name]
		if !ok {
			continue
		}
		if err := variable.Update(c, v); err != nil {
			return err
		}
	}
	return nil
}
