// Package rowcodec is an optional helper outside the core engine, which
// only ever consumes opaque row bytes: it lets callers store JSON-ish
// documents as BSON bytes and pull typed index values back out of them
// with an extractor function. JsonToBson/BsonToJson cover the wire
// conversion; HasField/ExtractValue pull a typed field out of a bson.D as
// an indexkey.Value, which is what the engine's extractor functions are
// expected to produce for index maintenance.
package rowcodec

import (
	"time"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/bobboyms/walnutdb/pkg/indexkey"
)

// MarshalBson encodes a bson.D document to its wire bytes.
func MarshalBson(doc bson.D) ([]byte, error) {
	b, err := bson.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "rowcodec: marshal bson")
	}
	return b, nil
}

// UnmarshalBson decodes wire bytes back to a bson.D document.
func UnmarshalBson(data []byte) (bson.D, error) {
	var doc bson.D
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "rowcodec: unmarshal bson")
	}
	return doc, nil
}

// JsonToBson parses an extended-JSON string into a bson.D document,
// suitable for passing to a table's Upsert as the row value after
// MarshalBson.
func JsonToBson(jsonStr string) (bson.D, error) {
	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(jsonStr), true, &doc); err != nil {
		return nil, errors.Wrap(err, "rowcodec: parse json")
	}
	return doc, nil
}

// BsonToJson renders stored row bytes back to an extended-JSON string for
// display or export.
func BsonToJson(data []byte) (string, error) {
	var doc bson.D
	if err := bson.Unmarshal(data, &doc); err != nil {
		return "", errors.Wrap(err, "rowcodec: unmarshal bson")
	}
	jsonBytes, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return "", errors.Wrap(err, "rowcodec: render json")
	}
	return string(jsonBytes), nil
}

// HasField reports whether key is present in doc.
func HasField(doc bson.D, key string) bool {
	for _, e := range doc {
		if e.Key == key {
			return true
		}
	}
	return false
}

// ExtractValue pulls key out of doc as an indexkey.Value, matching it
// against Go's native bson decode types. scale is only consulted when the
// field decodes as a float and the caller wants it indexed as a Decimal; pass
// scale < 0 to keep floats as Float64.
func ExtractValue(doc bson.D, key string, scale int) (indexkey.Value, error) {
	for _, e := range doc {
		switch v := e.Value.(type) {
		case int:
			if e.Key == key {
				return indexkey.Int64(int64(v)), nil
			}
		case int32:
			if e.Key == key {
				return indexkey.Int64(int64(v)), nil
			}
		case int64:
			if e.Key == key {
				return indexkey.Int64(v), nil
			}
		case string:
			if e.Key == key {
				return indexkey.String(v), nil
			}
		case bool:
			if e.Key == key {
				return indexkey.Bool(v), nil
			}
		case float32:
			if e.Key == key {
				return makeFloatValue(float64(v), scale), nil
			}
		case float64:
			if e.Key == key {
				return makeFloatValue(v, scale), nil
			}
		case time.Time:
			if e.Key == key {
				return indexkey.DateTime(v), nil
			}
		case bson.DateTime:
			if e.Key == key {
				return indexkey.DateTime(v.Time()), nil
			}
		}
	}
	return indexkey.Value{}, errors.Newf("rowcodec: field %q not found in document", key)
}

func makeFloatValue(v float64, scale int) indexkey.Value {
	if scale < 0 {
		return indexkey.Float64(v)
	}
	return indexkey.Decimal(v, scale)
}
