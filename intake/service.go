package intake

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DaniloDobras/ois/logger"
	"github.com/DaniloDobras/ois/store"
)

// Emitter is notified after an order has committed.
type Emitter interface {
	EmitOrderCommitted(orderID, outboxID int64, orderType string, actions int)
}

type ServiceConfig struct {
	Topic     string
	TxTimeout time.Duration
}

// Service is the intake entry point: validate and write in one transaction,
// then announce the commit.
type Service struct {
	db        *store.DB
	writer    *Writer
	emitter   Emitter
	txTimeout time.Duration
	log       *zap.Logger

	// wrapTx lets tests interpose on the transaction.
	wrapTx func(*store.Tx) OrderTx
}

func NewService(db *store.DB, cfg ServiceConfig, emitter Emitter, log *zap.Logger) *Service {
	log = logger.OrNop(log)
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 15 * time.Second
	}
	return &Service{
		db:        db,
		writer:    NewWriter(cfg.Topic, log),
		emitter:   emitter,
		txTimeout: cfg.TxTimeout,
		log:       log,
		wrapTx:    func(tx *store.Tx) OrderTx { return tx },
	}
}

// Submit validates req and persists it with its outbox row. It returns the
// new order id once the transaction has committed.
//
// The transaction runs on a context detached from ctx: a caller that goes
// away mid-request can neither abort the commit half way nor undo it. The
// transaction is still bounded by the configured timeout.
func (s *Service) Submit(ctx context.Context, req OrderRequest) (int64, error) {
	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.txTimeout)
	defer cancel()

	var written *Written
	err := s.db.WithTx(txCtx, func(tx *store.Tx) error {
		otx := s.wrapTx(tx)
		v, err := Validate(txCtx, otx, req)
		if err != nil {
			return err
		}
		written, err = s.writer.Write(txCtx, otx, v)
		return err
	})
	if err != nil {
		var ie *Error
		if !errors.As(err, &ie) {
			ie = persistence("commit order", err)
		}
		if ie.Kind == KindPersistence {
			s.log.Error("order not persisted",
				zap.String("order_type", string(req.OrderType)),
				zap.Bool("lock_timeout", store.IsLockTimeout(err)),
				zap.Error(err),
			)
		} else {
			s.log.Info("order rejected",
				zap.String("order_type", string(req.OrderType)),
				zap.String("code", ie.Code),
				zap.String("reason", ie.Message),
			)
		}
		return 0, ie
	}

	s.log.Info("order received",
		zap.Int64("order_id", written.OrderID),
		zap.String("order_type", string(req.OrderType)),
		zap.Int64("priority", req.Priority),
		zap.Int("actions", len(written.Event.Actions)),
	)
	if s.emitter != nil {
		s.emitter.EmitOrderCommitted(written.OrderID, written.OutboxID, string(req.OrderType), len(written.Event.Actions))
	}
	return written.OrderID, nil
}
