package dimse

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/otcheredev/dicom-store/pkg/dicom"
	"github.com/otcheredev/dicom-store/pkg/dicom/transcode"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

type classSyntax struct {
	sopClass string
	syntax   dicom.TransferSyntax
}

// StoreUserConnection bridges a pending "store this SOP instance of this
// transfer syntax" intent and the association layer. The storage class
// table grows monotonically while a bulk transfer runs, so successive
// re-negotiations propose a progressively richer set of contexts.
type StoreUserConnection struct {
	params      AssociationParameters
	association *Association

	// registered maps SOP class UID to the transfer syntaxes ever needed
	registered map[string]map[dicom.TransferSyntax]bool

	// proposedOriginal tracks pairs proposed as an individual context, to
	// avoid a renegotiation loop when the peer already rejected them
	proposedOriginal map[classSyntax]bool

	proposeCommonClasses        bool
	proposeUncompressedSyntaxes bool
	proposeRetiredBigEndian     bool
}

// NewStoreUserConnection creates a store SCU connection. Common classes and
// uncompressed syntaxes are proposed by default; the retired big-endian
// syntax is not.
func NewStoreUserConnection(params AssociationParameters) *StoreUserConnection {
	return &StoreUserConnection{
		params:                      params,
		association:                 NewAssociation(params),
		registered:                  make(map[string]map[dicom.TransferSyntax]bool),
		proposedOriginal:            make(map[classSyntax]bool),
		proposeCommonClasses:        true,
		proposeUncompressedSyntaxes: true,
	}
}

// Params returns the association parameters
func (c *StoreUserConnection) Params() AssociationParameters {
	return c.params
}

// SetCommonClassesProposed toggles proposing the library of common storage
// SOP classes during negotiation.
func (c *StoreUserConnection) SetCommonClassesProposed(proposed bool) {
	c.proposeCommonClasses = proposed
}

// SetUncompressedSyntaxesProposed toggles adding the uncompressed transfer
// syntaxes to every proposed class.
func (c *StoreUserConnection) SetUncompressedSyntaxesProposed(proposed bool) {
	c.proposeUncompressedSyntaxes = proposed
}

// SetRetiredBigEndianProposed toggles proposing the retired big-endian
// syntax alongside the uncompressed family.
func (c *StoreUserConnection) SetRetiredBigEndianProposed(proposed bool) {
	c.proposeRetiredBigEndian = proposed
}

// Close releases the underlying association
func (c *StoreUserConnection) Close() error {
	return c.association.Close()
}

// RegisterStorageClass records that the pair will be needed. The table is
// kept across re-negotiations.
func (c *StoreUserConnection) RegisterStorageClass(sopClassUID string, syntax dicom.TransferSyntax) {
	if c.registered[sopClassUID] == nil {
		c.registered[sopClassUID] = make(map[dicom.TransferSyntax]bool)
	}
	c.registered[sopClassUID][syntax] = true
}

func (c *StoreUserConnection) uncompressedFamily() []dicom.TransferSyntax {
	out := []dicom.TransferSyntax{
		dicom.ImplicitVRLittleEndian,
		dicom.ExplicitVRLittleEndian,
	}
	if c.proposeRetiredBigEndian {
		out = append(out, dicom.ExplicitVRBigEndian)
	}
	return out
}

// proposeStorageClass proposes one SOP class as a series of presentation
// contexts: one context per registered syntax, one for the preferred
// syntax, and one group with the remaining uncompressed syntaxes. Returns
// false when the quota cannot take the whole series.
func (c *StoreUserConnection) proposeStorageClass(sopClassUID string, syntaxes map[dicom.TransferSyntax]bool,
	hasPreferred bool, preferred dicom.TransferSyntax) bool {

	var groups [][]dicom.TransferSyntax

	for syntax := range syntaxes {
		groups = append(groups, []dicom.TransferSyntax{syntax})
	}
	if hasPreferred && !syntaxes[preferred] {
		groups = append(groups, []dicom.TransferSyntax{preferred})
	}
	if c.proposeUncompressedSyntaxes {
		var group []dicom.TransferSyntax
		for _, syntax := range c.uncompressedFamily() {
			if !syntaxes[syntax] && (!hasPreferred || preferred != syntax) {
				group = append(group, syntax)
			}
		}
		if len(group) > 0 {
			groups = append(groups, group)
		}
	}

	if c.association.RemainingPropositions() <= len(groups) {
		return false
	}

	for _, group := range groups {
		c.association.ProposeContext(sopClassUID, group)
		if len(group) == 1 {
			c.proposedOriginal[classSyntax{sopClassUID, group[0]}] = true
		}
	}
	return true
}

func (c *StoreUserConnection) lookupContext(sopClassUID string, syntax dicom.TransferSyntax) (byte, bool) {
	if !c.association.IsOpen() {
		return 0, false
	}
	contexts := c.association.LookupAccepted(sopClassUID)
	id, ok := contexts[syntax]
	return id, ok
}

// Negotiate returns the presentation context id for the pair, re-opening
// the association with a fresh proposal when the pair is not yet accepted.
// The boolean result is false when the peer refuses the pair even after
// renegotiation.
func (c *StoreUserConnection) Negotiate(ctx context.Context, sopClassUID string,
	syntax dicom.TransferSyntax) (byte, bool, error) {
	return c.negotiate(ctx, sopClassUID, syntax, c.proposeUncompressedSyntaxes, dicom.ExplicitVRLittleEndian)
}

func (c *StoreUserConnection) negotiate(ctx context.Context, sopClassUID string,
	syntax dicom.TransferSyntax, hasPreferred bool, preferred dicom.TransferSyntax) (byte, bool, error) {

	// Step 1: the previously negotiated association may already carry it.
	if id, ok := c.lookupContext(sopClassUID, syntax); ok {
		return id, true, nil
	}

	if c.association.IsOpen() {
		log.Info().
			Str("component", "store-scu").
			Str("remote_aet", c.params.RemoteAET).
			Str("sop_class", sopClassUID).
			Str("transfer_syntax", string(syntax)).
			Msg("Re-negotiating DICOM association")

		// The peer already saw this exact pair and rejected it.
		if c.proposedOriginal[classSyntax{sopClassUID, syntax}] {
			log.Info().
				Str("component", "store-scu").
				Str("sop_class", sopClassUID).
				Str("transfer_syntax", string(syntax)).
				Msg("Pair was already rejected by the remote modality, not renegotiating")
			return 0, false, nil
		}
	}

	if err := c.association.Close(); err != nil {
		return 0, false, err
	}
	if err := c.association.ClearPresentationContexts(); err != nil {
		return 0, false, err
	}
	c.proposedOriginal = make(map[classSyntax]bool)
	c.RegisterStorageClass(sopClassUID, syntax)

	// Step 2: the mandatory SOP class goes first.
	mandatory, ok := c.registered[sopClassUID]
	if !ok || !mandatory[syntax] {
		return 0, false, dicomerr.Wrap(dicomerr.ErrInternal, "mandatory storage class vanished")
	}
	if !c.proposeStorageClass(sopClassUID, mandatory, hasPreferred, preferred) {
		return 0, false, dicomerr.Wrap(dicomerr.ErrInternal,
			"too many transfer syntaxes for SOP class UID %s", sopClassUID)
	}

	// Step 3: every previously spotted storage class.
	for classUID, syntaxes := range c.registered {
		if classUID != sopClassUID {
			c.proposeStorageClass(classUID, syntaxes, hasPreferred, preferred)
		}
	}

	// Step 4: fill the remaining quota with the common storage classes,
	// using implicit little endian as their preferred syntax.
	if c.proposeCommonClasses {
		empty := map[dicom.TransferSyntax]bool{}
		for _, classUID := range dicom.CommonStorageSOPClasses {
			if classUID != sopClassUID && c.registered[classUID] == nil {
				c.proposeStorageClass(classUID, empty, true, dicom.ImplicitVRLittleEndian)
			}
		}
	}

	// Step 5: open and check whether the pair was accepted.
	if err := c.association.Open(ctx); err != nil {
		return 0, false, err
	}
	id, ok := c.lookupContext(sopClassUID, syntax)
	return id, ok, nil
}

// lookupTranscoding negotiates for the source syntax and returns every
// accepted syntax of the class. Transcoding may be possible even when the
// source syntax itself was refused.
func (c *StoreUserConnection) lookupTranscoding(ctx context.Context, sopClassUID string,
	sourceSyntax dicom.TransferSyntax) (map[dicom.TransferSyntax]bool, error) {

	if _, _, err := c.negotiate(ctx, sopClassUID, sourceSyntax,
		c.proposeUncompressedSyntaxes, dicom.ExplicitVRLittleEndian); err != nil {
		return nil, err
	}

	accepted := make(map[dicom.TransferSyntax]bool)
	for syntax := range c.association.LookupAccepted(sopClassUID) {
		accepted[syntax] = true
	}
	return accepted, nil
}

// Store sends one parsed instance, transcoding it when the negotiated
// contexts do not carry the source transfer syntax. It returns the SOP
// class and instance UIDs that went on the wire.
func (c *StoreUserConnection) Store(ctx context.Context, transcoder *transcode.Transcoder,
	dataset *dicom.DataSet, opts CStoreOptions) (string, string, error) {

	sopClassUID, err := dataset.SOPClassUID()
	if err != nil {
		return "", "", err
	}
	sopInstanceUID, err := dataset.SOPInstanceUID()
	if err != nil {
		return "", "", err
	}

	sourceSyntax := dataset.TransferSyntax
	toSend := dataset

	contextID, ok, err := c.negotiate(ctx, sopClassUID, sourceSyntax,
		c.proposeUncompressedSyntaxes, dicom.ExplicitVRLittleEndian)
	if err != nil {
		return "", "", err
	}

	if !ok {
		if transcoder == nil {
			return "", "", dicomerr.Wrap(dicomerr.ErrNetworkProtocol,
				"no presentation context for SOP class %s with transfer syntax %s to AET %s",
				sopClassUID, string(sourceSyntax), c.params.RemoteAET)
		}

		accepted, err := c.lookupTranscoding(ctx, sopClassUID, sourceSyntax)
		if err != nil {
			return "", "", err
		}

		transcoded, transcodable, err := transcoder.Transcode(dataset, accepted, true)
		if err != nil {
			return "", "", err
		}
		if !transcodable {
			return "", "", dicomerr.Wrap(dicomerr.ErrNetworkProtocol,
				"cannot transcode SOP class %s from %s into a syntax accepted by AET %s",
				sopClassUID, string(sourceSyntax), c.params.RemoteAET)
		}

		toSend = transcoded
		sopInstanceUID, err = toSend.SOPInstanceUID()
		if err != nil {
			return "", "", err
		}
		contextID, ok = c.lookupContext(sopClassUID, toSend.TransferSyntax)
		if !ok {
			return "", "", dicomerr.Wrap(dicomerr.ErrInternal, "transcoded syntax lost from association")
		}
	}

	payload, err := toSend.Encode()
	if err != nil {
		return "", "", err
	}

	status, err := c.association.CStore(ctx, contextID, sopClassUID, sopInstanceUID, payload, opts)
	if err != nil {
		return "", "", err
	}

	// Coercion warnings (0xB000, 0xB006, 0xB007) still count as delivered.
	if status != StatusSuccess &&
		status != 0xB000 && status != 0xB006 && status != 0xB007 {
		return "", "", &dicomerr.DimseStatusError{Operation: "C-STORE", Status: status}
	}

	return sopClassUID, sopInstanceUID, nil
}
