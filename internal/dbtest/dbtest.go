// Package dbtest opens isolated sqlite databases carrying the full schema for
// repository and service tests.
package dbtest

import (
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/bazaar-backend/pkg/db"
	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	"github.com/angelmondragon/bazaar-backend/pkg/logger"
	"github.com/angelmondragon/bazaar-backend/pkg/types"
)

// Open returns a fresh in-memory database migrated with every model.
func Open(t testing.TB) *db.Client {
	t.Helper()

	dsn := "file:bazaar_" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=1"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Discard,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	if err := conn.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_ledger_events_settlement_credit
  ON ledger_events (order_id, vendor_id) WHERE type = 'settlement_credit'`).Error; err != nil {
		t.Fatalf("ledger index: %v", err)
	}
	return db.Wrap(conn)
}

// Logger discards output.
func Logger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

// SeedProduct inserts an active product owned by vendorID.
func SeedProduct(t testing.TB, conn *gorm.DB, vendorID uuid.UUID, name string, price int64, stock int) *models.Product {
	t.Helper()
	p := &models.Product{
		VendorID: vendorID,
		Name:     name,
		Price:    decimal.NewFromInt(price),
		Stock:    stock,
		IsActive: true,
	}
	if err := conn.Create(p).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	return p
}

// SeedVendor inserts a vendor profile with the given balance.
func SeedVendor(t testing.TB, conn *gorm.DB, ownerID uuid.UUID, balance int64) *models.Vendor {
	t.Helper()
	v := &models.Vendor{
		OwnerID:   ownerID,
		StoreName: "Store " + ownerID.String()[:8],
		Balance:   decimal.NewFromInt(balance),
	}
	if err := conn.Create(v).Error; err != nil {
		t.Fatalf("create vendor: %v", err)
	}
	return v
}

// ReloadVendor reads the vendor by owner id.
func ReloadVendor(t testing.TB, conn *gorm.DB, ownerID uuid.UUID) *models.Vendor {
	t.Helper()
	var v models.Vendor
	if err := conn.Where("owner_id = ?", ownerID).First(&v).Error; err != nil {
		t.Fatalf("reload vendor: %v", err)
	}
	return &v
}

// ReloadProduct reads the product by id.
func ReloadProduct(t testing.TB, conn *gorm.DB, id uuid.UUID) *models.Product {
	t.Helper()
	var p models.Product
	if err := conn.First(&p, "id = ?", id).Error; err != nil {
		t.Fatalf("reload product: %v", err)
	}
	return &p
}

// Line is one product line for SeedOrder.
type Line struct {
	Product  *models.Product
	Quantity int
}

// SeedOrder inserts an order without shipping or tax, so total equals the sum
// of the lines. A paid status also moves the order to processing.
func SeedOrder(t testing.TB, conn *gorm.DB, customerID uuid.UUID, status enums.PaymentStatus, lines ...Line) *models.Order {
	t.Helper()
	subtotal := decimal.Zero
	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		lineTotal := line.Product.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		items = append(items, models.OrderItem{
			ProductID: line.Product.ID,
			VendorID:  line.Product.VendorID,
			Name:      line.Product.Name,
			Price:     line.Product.Price,
			Quantity:  line.Quantity,
			Subtotal:  lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}
	reference := "ORD-" + uuid.NewString()
	order := &models.Order{
		OrderNumber:      "BZ-TEST-" + uuid.NewString()[:8],
		CustomerID:       customerID,
		CustomerEmail:    "customer@example.com",
		Items:            items,
		ShippingAddress:  types.Address{FullName: "Ada", Phone: "0800", Line1: "1 Marina", City: "Lagos", State: "LA", Country: "NG"},
		PaymentMethod:    enums.PaymentProviderPaystack,
		PaymentStatus:    status,
		OrderStatus:      enums.OrderStatusPending,
		Currency:         "NGN",
		Subtotal:         subtotal,
		ShippingFee:      decimal.Zero,
		Tax:              decimal.Zero,
		Total:            subtotal,
		PaymentReference: &reference,
	}
	if status.IsSettled() {
		paidAt := time.Now().UTC()
		order.OrderStatus = enums.OrderStatusProcessing
		order.PaidAt = &paidAt
	}
	if err := conn.Create(order).Error; err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}
