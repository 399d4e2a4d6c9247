package rtpext

import (
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// uriToType inverts Type.URI() for the extensions this core understands;
// unrecognised extmap lines are skipped (RFC 5285 §5 allows unknown
// extensions to be ignored).
var uriToType = func() map[string]Type {
	m := make(map[string]Type)
	for _, t := range []Type{
		TypeAbsoluteSendTime, TypeTransmissionTimeOffset, TypeTransportSequenceNumber,
		TypeAbsoluteCaptureTime, TypePlayoutDelayLimits, TypeRtpMid, TypeRtpStreamId,
		TypeRepairedRtpStreamId,
	} {
		m[t.URI()] = t
	}
	return m
}()

// NegotiateFromSDP builds a Registry from the "extmap" attributes of a media
// description, the one SDP surface this module needs (spec §1: signalling
// itself is an external collaborator; this only reads the already-negotiated
// extmap lines out of a *sdp.MediaDescription produced elsewhere).
//
// Grounded on the teacher's own sdp.Attribute{Key,Value} parsing pattern
// (pkg/manager_media/sdp_utils.go, pkg/media_builder/builder.go).
func NegotiateFromSDP(media *sdp.MediaDescription) (*Registry, error) {
	reg := NewRegistry()
	for _, attr := range media.Attributes {
		if attr.Key != "extmap" {
			continue
		}
		id, uri, ok := parseExtmapValue(attr.Value)
		if !ok {
			continue
		}
		typ, known := uriToType[uri]
		if !known {
			continue
		}
		if err := reg.Register(typ, id); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// parseExtmapValue parses "<id>[/<direction>] <uri>" per RFC 8285 §5.
func parseExtmapValue(value string) (uint8, string, bool) {
	fields := strings.Fields(value)
	if len(fields) < 2 {
		return 0, "", false
	}
	idPart := fields[0]
	if slash := strings.IndexByte(idPart, '/'); slash != -1 {
		idPart = idPart[:slash]
	}
	id, err := strconv.Atoi(idPart)
	if err != nil || id < 1 || id > 255 {
		return 0, "", false
	}
	return uint8(id), fields[1], true
}

// BuildExtmapAttributes is the encode-side counterpart, used when this
// module is the SDP offerer for its own extensions.
func BuildExtmapAttributes(r *Registry) []sdp.Attribute {
	var attrs []sdp.Attribute
	for _, t := range []Type{
		TypeAbsoluteSendTime, TypeTransmissionTimeOffset, TypeTransportSequenceNumber,
		TypeAbsoluteCaptureTime, TypePlayoutDelayLimits, TypeRtpMid, TypeRtpStreamId,
		TypeRepairedRtpStreamId,
	} {
		id, ok := r.ID(t)
		if !ok {
			continue
		}
		attrs = append(attrs, sdp.Attribute{
			Key:   "extmap",
			Value: strconv.Itoa(int(id)) + " " + t.URI(),
		})
	}
	return attrs
}
