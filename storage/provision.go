package storage

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue/queueerror"
	log "github.com/sirupsen/logrus"
)

// Provision creates the task table and event queue when they do not exist.
// Empty names are skipped.
func Provision(ctx context.Context, connStr, table, queue string) error {
	if table != "" {
		if err := createTable(ctx, connStr, table); err != nil {
			return err
		}
	}
	if queue != "" {
		if err := createQueue(ctx, connStr, queue); err != nil {
			return err
		}
	}
	return nil
}

func createTable(ctx context.Context, connStr, name string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	if _, err := svc.NewClient(name).CreateTable(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
			return err
		}
		log.WithField("table", name).Info("table already exists")
		return nil
	}
	log.WithField("table", name).Info("table created")
	return nil
}

func createQueue(ctx context.Context, connStr, name string) error {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
	if err != nil {
		return err
	}
	if _, err := q.Create(ctx, nil); err != nil {
		if !queueerror.HasCode(err, queueerror.QueueAlreadyExists) {
			return err
		}
		log.WithField("queue", name).Info("queue already exists")
		return nil
	}
	log.WithField("queue", name).Info("queue created")
	return nil
}
