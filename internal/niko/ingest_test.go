package niko

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smarthome-bridge/internal/models"
	"smarthome-bridge/internal/publisher"
)

// fakeLister 返回固定目录
type fakeLister struct {
	devices   []models.RawDevice
	locations []models.RawLocation
	listErr   error
}

func (f *fakeLister) ListDevices(ctx context.Context) ([]models.RawDevice, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.devices, nil
}

func (f *fakeLister) ListLocations(ctx context.Context) ([]models.RawLocation, error) {
	return f.locations, nil
}

// fakeCatalogPublisher 记录发布和删除
type fakeCatalogPublisher struct {
	published []interface{}
	batches   [][]interface{}
	deleted   []string
}

func (f *fakeCatalogPublisher) Publish(ctx context.Context, record interface{}) error {
	f.published = append(f.published, record)
	return nil
}

func (f *fakeCatalogPublisher) PublishBatch(ctx context.Context, records []interface{}) publisher.BatchResult {
	f.batches = append(f.batches, records)
	return publisher.BatchResult{Prepared: len(records), Committed: len(records)}
}

func (f *fakeCatalogPublisher) DeleteDevice(ctx context.Context, deviceUUID string) error {
	f.deleted = append(f.deleted, deviceUUID)
	return nil
}

func (f *fakeCatalogPublisher) DeleteLocation(ctx context.Context, locationUUID string) error {
	f.deleted = append(f.deleted, locationUUID)
	return nil
}

func TestIngestor_Resync(t *testing.T) {
	lister := &fakeLister{
		devices: []models.RawDevice{
			{UUID: "d1", Model: "dimmer", Name: "Light"},
			{UUID: "d2", Model: "thermostat", Name: "Thermostat"},
		},
		locations: []models.RawLocation{
			{UUID: "l1", Name: "Kitchen", Icon: "kitchen"},
		},
	}
	pub := &fakeCatalogPublisher{}
	ing := NewIngestor(lister, pub, zap.NewNop())

	require.NoError(t, ing.Resync(context.Background()))

	// 设备批量发布，位置单条发布
	require.Len(t, pub.batches, 1)
	assert.Len(t, pub.batches[0], 2)
	require.Len(t, pub.published, 1)

	assert.Len(t, ing.Devices(), 2)
	assert.Len(t, ing.Locations(), 1)

	device, ok := ing.Device("d1")
	require.True(t, ok)
	assert.Equal(t, models.ClassDimmer, device.Class)
}

func TestIngestor_Resync_ListFailure(t *testing.T) {
	lister := &fakeLister{listErr: errors.New("gateway unreachable")}
	pub := &fakeCatalogPublisher{}
	ing := NewIngestor(lister, pub, zap.NewNop())

	assert.Error(t, ing.Resync(context.Background()))
	assert.Empty(t, pub.batches)
}

func TestIngestor_DeviceAddedAndChanged(t *testing.T) {
	pub := &fakeCatalogPublisher{}
	ing := NewIngestor(&fakeLister{}, pub, zap.NewNop())

	ing.HandleDeviceEvent("devices.added", []models.RawDevice{
		{UUID: "d1", Model: "dimmer", Name: "Light"},
	})
	ing.HandleDeviceEvent("devices.changed", []models.RawDevice{
		{UUID: "d1", Model: "dimmer", Name: "Light", Properties: []map[string]interface{}{
			{"Brightness": "80"},
		}},
	})

	assert.Len(t, pub.published, 2)

	device, ok := ing.Device("d1")
	require.True(t, ok)
	require.NotNil(t, device.Dimmer)
	require.NotNil(t, device.Dimmer.Brightness)
	assert.Equal(t, 80, *device.Dimmer.Brightness)

	stats := ing.Statistics()
	assert.Equal(t, int64(2), stats.DeviceUpdates)
	assert.False(t, stats.LastUpdate.IsZero())
}

func TestIngestor_DeviceRemoved(t *testing.T) {
	pub := &fakeCatalogPublisher{}
	ing := NewIngestor(&fakeLister{}, pub, zap.NewNop())

	ing.HandleDeviceEvent("devices.added", []models.RawDevice{{UUID: "d1", Model: "light"}})
	require.Len(t, ing.Devices(), 1)

	ing.HandleDeviceEvent("devices.removed", []models.RawDevice{{UUID: "d1"}})

	assert.Empty(t, ing.Devices())
	assert.Equal(t, []string{"d1"}, pub.deleted)
}

func TestIngestor_LocationEvents(t *testing.T) {
	pub := &fakeCatalogPublisher{}
	ing := NewIngestor(&fakeLister{}, pub, zap.NewNop())

	ing.HandleLocationEvent("locations.added", []models.RawLocation{
		{UUID: "l1", Name: "Kitchen", Index: 1},
	})
	require.Len(t, ing.Locations(), 1)

	ing.HandleLocationEvent("locations.removed", []models.RawLocation{{UUID: "l1"}})
	assert.Empty(t, ing.Locations())
	assert.Equal(t, []string{"l1"}, pub.deleted)
}

func TestIngestor_SystemAndUnknownEvents(t *testing.T) {
	pub := &fakeCatalogPublisher{}
	ing := NewIngestor(&fakeLister{}, pub, zap.NewNop())

	ing.HandleSystemEvent("time.published", nil)
	ing.HandleSystemEvent("systeminfo.published", nil)
	ing.HandleSystemEvent("something.new", nil)

	stats := ing.Statistics()
	assert.Equal(t, int64(1), stats.UnknownEvents)
}

func TestIngestor_NotificationsAndErrors(t *testing.T) {
	pub := &fakeCatalogPublisher{}
	ing := NewIngestor(&fakeLister{}, pub, zap.NewNop())

	ing.HandleNotification([]map[string]interface{}{
		{"Type": "alarm", "Text": "Smoke detected"},
		{"Type": "info", "Text": "Update available"},
	})
	ing.HandleError("devices.list", "ERR_AUTH", "not authorized")

	stats := ing.Statistics()
	assert.Equal(t, int64(2), stats.Notifications)
	assert.Equal(t, int64(1), stats.Errors)
}
