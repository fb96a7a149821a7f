package partition

import (
	"context"
	"fmt"

	"github.com/huykn/distributed-map/operation"
)

// LocalReplica delivers backups to a Service of another member running in
// the same process. The payload is decoded as it would be off the wire and
// executed on the replica's own partition worker.
type LocalReplica struct {
	service *Service
}

// NewLocalReplica creates a transport to service.
func NewLocalReplica(service *Service) *LocalReplica {
	return &LocalReplica{service: service}
}

// SendBackup implements BackupTransport.
func (r *LocalReplica) SendBackup(ctx context.Context, partitionID int, payload []byte) error {
	op, err := operation.Decode(payload)
	if err != nil {
		return err
	}
	if _, ok := op.(operation.BackupAwareOperation); ok {
		return fmt.Errorf("%s is not a backup operation", op.Name())
	}
	_, err = r.service.Execute(ctx, partitionID, op)
	return err
}
