/*
DESCRIPTION
  paramstore.go holds the VPS/SPS/PPS tables indexed by id, plus the active
  pointer per parameter-set kind, per COMPONENT DESIGN §4.3. VPS, SPS and
  PPS share no useful base behaviour (DESIGN NOTES, "Parameter-set
  polymorphism") so each is stored, activated and validated independently
  rather than through a common interface.

AUTHORS
  Saxon Nelson-Milton <saxon@ausocean.org>, The Australian Ocean Laboratory (AusOcean)

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package hevcdec

import "sync"

// ParamStore holds every VPS/SPS/PPS the decoder has seen, indexed by id,
// and the currently active SPS/PPS. Activation is copy-on-activate: once a
// picture references a parameter set (paramStore.activateSPS/activatePPS),
// the returned pointer is that picture's stable snapshot and paramStore is
// free to later overwrite the id's slot without affecting in-flight
// pictures, satisfying the invariant that an SPS referenced by an in-flight
// picture must not be mutated.
type ParamStore struct {
	mu  sync.Mutex
	vps [16]*VPS
	sps [16]*SPS
	pps [64]*PPS

	activeVPS *VPS
	activeSPS *SPS
	activePPS *PPS
}

// NewParamStore returns a new, empty ParamStore.
func NewParamStore() *ParamStore { return &ParamStore{} }

// putVPS stores v, indexed by v.ID.
func (s *ParamStore) putVPS(v *VPS) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vps[v.ID] = v
}

// putSPS stores v, indexed by v.ID.
func (s *ParamStore) putSPS(v *SPS) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sps[v.ID] = v
}

// putPPS stores v, indexed by v.ID.
func (s *ParamStore) putPPS(v *PPS) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pps[v.ID] = v
}

// activateSPS marks the SPS with the given id active and returns it. A
// reference to a non-existent id raises WarningNonExistingSPSReferenced;
// the caller must drop the slice being parsed.
func (s *ParamStore) activateSPS(id uint8) (*SPS, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(id) >= len(s.sps) || s.sps[id] == nil {
		return nil, NewError(WarningNonExistingSPSReferenced, "sps id %d not present in parameter store", id)
	}
	s.activeSPS = s.sps[id]
	return s.activeSPS, nil
}

// activatePPS marks the PPS with the given id active and returns it, along
// with the SPS it references (also activated). A reference to a
// non-existent PPS or SPS id raises the matching NonExisting*Referenced
// warning.
func (s *ParamStore) activatePPS(id uint8) (*PPS, *SPS, error) {
	s.mu.Lock()
	pps := (*PPS)(nil)
	if int(id) < len(s.pps) {
		pps = s.pps[id]
	}
	s.mu.Unlock()
	if pps == nil {
		return nil, nil, NewError(WarningNonExistingPPSReferenced, "pps id %d not present in parameter store", id)
	}
	sps, err := s.activateSPS(pps.SPSID)
	if err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	s.activePPS = pps
	s.mu.Unlock()
	return pps, sps, nil
}

// sps_ looks up a stored SPS by id without activating it.
func (s *ParamStore) sps_(id uint8) *SPS {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(id) >= len(s.sps) {
		return nil
	}
	return s.sps[id]
}

// reset clears every stored parameter set and active pointer, used by the
// decoder's reset operation (§5 Cancellation).
func (s *ParamStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vps = [16]*VPS{}
	s.sps = [16]*SPS{}
	s.pps = [64]*PPS{}
	s.activeVPS, s.activeSPS, s.activePPS = nil, nil, nil
}
