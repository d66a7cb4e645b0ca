//go:build linux

package launcher

import (
	"fmt"
	"strings"

	"github.com/moby/sys/capability"
)

/**
 * Default capability allow-list for sandboxed children. Narrower than a
 * general-purpose container runtime's default: no CAP_NET_RAW or
 * CAP_NET_BIND_SERVICE, since network isolation is out of scope and a
 * sandboxed program never owns a socket worth binding or a raw packet
 * worth crafting.
 */
var defaultCaps = []string{
	"CAP_CHOWN", "CAP_DAC_OVERRIDE", "CAP_FSETID", "CAP_FOWNER",
	"CAP_MKNOD", "CAP_SETGID", "CAP_SETUID",
	"CAP_SETFCAP", "CAP_SETPCAP",
	"CAP_SYS_CHROOT", "CAP_KILL", "CAP_AUDIT_READ", "CAP_AUDIT_WRITE",
}

/**
 * A tiny set type for capabilities.
 */
type CapSet map[capability.Cap]struct{}

/**
 * Capability options for a sandboxed child.
 */
type CapabilityOpts struct {
	// List of capabilities to add.
	Add CapSet

	// List of capabilities to drop.
	Drop CapSet
}

// DefaultCapabilityOpts returns the fixed allow-list with no per-run
// adjustments, the only configuration the reference CLI exposes.
func DefaultCapabilityOpts() *CapabilityOpts {
	return &CapabilityOpts{Add: CapSet{}, Drop: CapSet{}}
}

/**
 * Add capabilities to the set.
 * @param ids the capability IDs to add
 */
func (cs CapSet) Add(ids ...capability.Cap) {
	for _, id := range ids {
		cs[id] = struct{}{}
	}
}

/**
 * Remove capabilities from the set.
 * @param ids the capability IDs to remove
 */
func (cs CapSet) Remove(ids ...capability.Cap) {
	for _, id := range ids {
		delete(cs, id)
	}
}

/**
 * Copy the capability set.
 * @return the slice of capability IDs
 */
func (cs CapSet) Slice() []capability.Cap {
	out := make([]capability.Cap, 0, len(cs))
	for id := range cs {
		out = append(out, id)
	}
	return out
}

/**
 * Converts a capability name to lowercase and without the "CAP_" prefix.
 */
func NormalizeCap(cap string) string {
	s := strings.TrimSpace(strings.ToLower(cap))
	s = strings.TrimPrefix(s, "cap_")
	return s
}

var capNameToID = func() map[string]capability.Cap {
	m := make(map[string]capability.Cap)
	for _, c := range capability.ListKnown() {
		m[c.String()] = c
	}
	return m
}()

/**
 * Convert a capability name to its ID.
 */
func FromCapability(cap string) (capability.Cap, error) {
	cap = NormalizeCap(cap)
	if id, ok := capNameToID[cap]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("unknown capability: %q", cap)
}

/**
 * Convert a list of capability names to their IDs.
 */
func FromCapabilities(caps []string) ([]capability.Cap, error) {
	var out []capability.Cap
	for _, cap := range caps {
		id, err := FromCapability(cap)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

/**
 * BuildCapSets computes the effective capability sets given the fixed
 * allow-list plus any additions/drops.
 */
func (o *CapabilityOpts) BuildCapSets() (map[capability.CapType][]capability.Cap, error) {
	defCaps, err := FromCapabilities(defaultCaps)
	if err != nil {
		return nil, err
	}
	capSet := CapSet{}
	capSet.Add(defCaps...)

	if len(o.Drop) > 0 {
		capSet.Remove(o.Drop.Slice()...)
	}
	if len(o.Add) > 0 {
		capSet.Add(o.Add.Slice()...)
	}

	final := capSet.Slice()
	return map[capability.CapType][]capability.Cap{
		capability.BOUNDING:    final,
		capability.PERMITTED:   final,
		capability.EFFECTIVE:   final,
		capability.INHERITABLE: final,
	}, nil
}

/**
 * Apply clears the current process's capability sets and replaces them
 * with exactly those returned by BuildCapSets, dropping ambient
 * capabilities outright.
 */
func (o *CapabilityOpts) Apply() error {
	capsByType, err := o.BuildCapSets()
	if err != nil {
		return err
	}

	caps, err := capability.NewPid2(0)
	if err != nil {
		return fmt.Errorf("error getting process capabilities: %w", err)
	}

	caps.Clear(capability.BOUNDS)
	caps.Set(capability.BOUNDING, capsByType[capability.BOUNDING]...)

	caps.Clear(capability.CAPS)
	caps.Set(capability.PERMITTED, capsByType[capability.PERMITTED]...)
	caps.Set(capability.EFFECTIVE, capsByType[capability.EFFECTIVE]...)
	caps.Set(capability.INHERITABLE, capsByType[capability.INHERITABLE]...)

	caps.Clear(capability.AMBIENT)

	if err := caps.Apply(capability.CAPS | capability.BOUNDS | capability.AMBIENT); err != nil {
		return fmt.Errorf("set capabilities: %w", err)
	}

	return nil
}
