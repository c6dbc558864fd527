package scp

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/otcheredev/dicom-store/internal/index"
	"github.com/otcheredev/dicom-store/pkg/dicom"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

// CommitmentItem identifies one instance of a storage commitment
// transaction.
type CommitmentItem struct {
	SOPClassUID    string
	SOPInstanceUID string
}

// CommitmentHandler is the collaborator behind the storage commitment
// push model. HandleRequest receives an N-ACTION transaction from a peer
// asking this server to commit to the listed instances; HandleReport
// receives the N-EVENT-REPORT outcome of a commitment this server
// requested elsewhere.
type CommitmentHandler interface {
	HandleRequest(ctx context.Context, transactionUID string, items []CommitmentItem) error
	HandleReport(ctx context.Context, transactionUID string, committed, failed []CommitmentItem) error
}

// UnsupportedCommitment rejects every commitment transaction. It is the
// default collaborator until a deployment provides a real one.
type UnsupportedCommitment struct{}

func (UnsupportedCommitment) HandleRequest(context.Context, string, []CommitmentItem) error {
	return dicomerr.Wrap(dicomerr.ErrNotImplemented, "storage commitment is not supported")
}

func (UnsupportedCommitment) HandleReport(context.Context, string, []CommitmentItem, []CommitmentItem) error {
	return dicomerr.Wrap(dicomerr.ErrNotImplemented, "storage commitment is not supported")
}

// IndexCommitment answers commitment requests against the local index:
// an instance counts as committed when the index knows its SOP instance
// UID.
type IndexCommitment struct {
	index index.Index
}

// NewIndexCommitment creates a commitment handler backed by idx
func NewIndexCommitment(idx index.Index) *IndexCommitment {
	return &IndexCommitment{index: idx}
}

func (c *IndexCommitment) HandleRequest(ctx context.Context, transactionUID string, items []CommitmentItem) error {
	if transactionUID == "" {
		return dicomerr.Wrap(dicomerr.ErrBadRequest, "commitment request without a transaction UID")
	}
	for _, item := range items {
		matches, err := c.index.LookupIdentifier(ctx, dicom.TagSOPInstanceUID, item.SOPInstanceUID, dicom.LevelInstance)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			return dicomerr.Wrap(dicomerr.ErrUnknownResource, "instance %s is not stored", item.SOPInstanceUID)
		}
	}
	log.Info().
		Str("component", "scp").
		Str("transaction_uid", transactionUID).
		Int("instances", len(items)).
		Msg("Storage commitment accepted")
	return nil
}

func (c *IndexCommitment) HandleReport(ctx context.Context, transactionUID string, committed, failed []CommitmentItem) error {
	log.Info().
		Str("component", "scp").
		Str("transaction_uid", transactionUID).
		Int("committed", len(committed)).
		Int("failed", len(failed)).
		Msg("Storage commitment outcome received")
	return nil
}

// parseCommitmentInformation extracts the transaction UID from an
// N-ACTION or N-EVENT-REPORT information dataset. The referenced SOP
// sequence travels in a sequence element the flat codec does not expand,
// so the item list stays empty for peers that send one.
func parseCommitmentInformation(payload []byte, ts dicom.TransferSyntax) (string, []CommitmentItem) {
	if len(payload) == 0 {
		return "", nil
	}
	dataset, err := dicom.Parse(payload, ts)
	if err != nil {
		return "", nil
	}
	return dataset.GetString(dicom.TagTransactionUID), nil
}
