package redis

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/money"
)

// cartSchemaVersion tags the stored document so the schema can migrate
// forward without breaking carts persisted by older builds.
const cartSchemaVersion = 1

func encodeLines(lines []cart.Line) ([]byte, error) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("version")
	e.Int(cartSchemaVersion)
	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range lines {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(l.ID)
		e.FieldStart("productId")
		e.Str(l.ProductID)
		if l.VariantID != "" {
			e.FieldStart("variantId")
			e.Str(l.VariantID)
		}
		e.FieldStart("name")
		e.Str(l.Name)
		e.FieldStart("unitPrice")
		e.Int64(int64(l.UnitPrice))
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("stockAtAdd")
		e.Int(l.StockAtAdd)
		e.FieldStart("category")
		e.Str(l.Category)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
	return e.Bytes(), nil
}

func decodeLines(raw []byte) ([]cart.Line, error) {
	d := jx.DecodeBytes(raw)

	version := -1
	var lines []cart.Line
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "version":
			v, err := d.Int()
			if err != nil {
				return err
			}
			version = v
			return nil
		case "lines":
			return d.Arr(func(d *jx.Decoder) error {
				line, err := decodeLine(d)
				if err != nil {
					return err
				}
				lines = append(lines, line)
				return nil
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, err
	}

	if version != cartSchemaVersion {
		return nil, errors.Errorf("unsupported cart schema version %d", version)
	}
	return lines, nil
}

func decodeLine(d *jx.Decoder) (cart.Line, error) {
	var l cart.Line
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			l.ID, err = d.Str()
		case "productId":
			l.ProductID, err = d.Str()
		case "variantId":
			l.VariantID, err = d.Str()
		case "name":
			l.Name, err = d.Str()
		case "unitPrice":
			var v int64
			v, err = d.Int64()
			l.UnitPrice = money.Amount(v)
		case "quantity":
			l.Quantity, err = d.Int()
		case "stockAtAdd":
			l.StockAtAdd, err = d.Int()
		case "category":
			l.Category, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return l, err
}
