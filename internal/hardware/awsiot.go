package hardware

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"

	"locker-reservation-backend/internal/model"
)

// IoTDataPublisher is the part of the IoT data plane client the unlocker needs.
type IoTDataPublisher interface {
	Publish(ctx context.Context, params *iotdataplane.PublishInput, optFns ...func(*iotdataplane.Options)) (*iotdataplane.PublishOutput, error)
}

// AWSIoTUnlocker publishes unlock commands to a thing's command topic.
type AWSIoTUnlocker struct {
	client        IoTDataPublisher
	topicTemplate string
}

// NewAWSIoTUnlocker creates an unlocker. topicTemplate receives the thing
// name through a single %s verb.
func NewAWSIoTUnlocker(client IoTDataPublisher, topicTemplate string) *AWSIoTUnlocker {
	return &AWSIoTUnlocker{client: client, topicTemplate: topicTemplate}
}

func (u *AWSIoTUnlocker) Unlock(ctx context.Context, device *model.Device) error {
	addr, err := address[model.AWSIoTHardware](device)
	if err != nil {
		return err
	}
	payload, err := unlockPayload(device)
	if err != nil {
		return err
	}

	topic := fmt.Sprintf(u.topicTemplate, addr.ThingName)
	_, err = u.client.Publish(ctx, &iotdataplane.PublishInput{
		Topic:   aws.String(topic),
		Qos:     1,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("%w: publish to %s: %v", model.ErrHardwareFailed, topic, err)
	}
	return nil
}
