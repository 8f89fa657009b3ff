package history

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/Checker-Finance/nftmarket/pkg/model"
)

// DBExecutor is the subset of pgxpool.Pool the writer uses.
type DBExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const insertSaleQuery = `
	INSERT INTO market.t_sale (
		s_id_sale,
		collection,
		asset_id,
		seller,
		buyer,
		dec_price,
		dec_paid,
		dt_sold,
		s_source
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (s_id_sale) DO NOTHING;
`

// SaleWriter appends completed purchases to market.t_sale.
type SaleWriter struct {
	db     DBExecutor
	logger *zap.Logger
	source string
}

// NewSaleWriter builds a writer; source identifies the service instance
// recording the sale. A nil db makes every write a no-op.
func NewSaleWriter(db DBExecutor, logger *zap.Logger, source string) *SaleWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SaleWriter{db: db, logger: logger, source: source}
}

// RecordSale inserts sale. Re-recording the same SaleID is a no-op.
func (w *SaleWriter) RecordSale(ctx context.Context, sale *model.SaleRecord) error {
	if sale == nil || w.db == nil {
		return nil
	}

	_, err := w.db.Exec(ctx, insertSaleQuery,
		sale.SaleID,
		string(sale.Collection),
		sale.AssetID,
		string(sale.Seller),
		string(sale.Buyer),
		sale.Price,
		sale.Paid,
		sale.SoldAt,
		w.source,
	)
	if err != nil {
		w.logger.Error("history.sale_insert_failed",
			zap.String("sale_id", sale.SaleID),
			zap.String("buyer", sale.Buyer.String()),
			zap.Error(err),
		)
		return err
	}

	w.logger.Info("history.sale_recorded",
		zap.String("sale_id", sale.SaleID),
		zap.String("collection", sale.Collection.String()),
		zap.String("asset_id", sale.AssetID),
		zap.String("price", sale.Price.String()),
		zap.Time("sold_at", sale.SoldAt),
	)
	return nil
}
