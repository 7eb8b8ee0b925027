package progressor

import "context"

// StartWeight starts streaming weight measurements
func (s *Session) StartWeight(ctx context.Context) error {
	return s.SendCommand(ctx, StartWeightMeas)
}

// StopWeight stops streaming weight measurements
func (s *Session) StopWeight(ctx context.Context) error {
	return s.SendCommand(ctx, StopWeightMeas)
}

// HardwareTare asks the device to zero its own scale.  It is independent of the software offset set by
// SoftTare.
func (s *Session) HardwareTare(ctx context.Context) error {
	return s.SendCommand(ctx, TareScale)
}

// StartPeakRFD starts a single peak rate of force development measurement
func (s *Session) StartPeakRFD(ctx context.Context) error {
	return s.SendCommand(ctx, StartPeakRFDMeas)
}

// StartPeakRFDSeries starts a series of peak rate of force development measurements
func (s *Session) StartPeakRFDSeries(ctx context.Context) error {
	return s.SendCommand(ctx, StartPeakRFDSeries)
}

// AddCalibrationPoint records the current load as a calibration point
func (s *Session) AddCalibrationPoint(ctx context.Context) error {
	return s.SendCommand(ctx, AddCalibrationPoint)
}

// SaveCalibration persists the recorded calibration points on the device
func (s *Session) SaveCalibration(ctx context.Context) error {
	return s.SendCommand(ctx, SaveCalibration)
}

// ClearErrorInfo clears the stored crash information
func (s *Session) ClearErrorInfo(ctx context.Context) error {
	return s.SendCommand(ctx, ClearErrorInfo)
}

// Sleep puts the device to sleep.  The link is dropped by the device.
func (s *Session) Sleep(ctx context.Context) error {
	return s.SendCommand(ctx, Sleep)
}

// FirmwareVersion returns the device application version
func (s *Session) FirmwareVersion(ctx context.Context) (string, error) {
	reply, err := s.Request(ctx, GetAppVersion)
	if err != nil {
		return "", err
	}
	return reply.FirmwareVersion, nil
}

// BatteryVoltage returns the battery voltage in millivolts
func (s *Session) BatteryVoltage(ctx context.Context) (uint32, error) {
	reply, err := s.Request(ctx, GetBatteryVoltage)
	if err != nil {
		return 0, err
	}
	return reply.BatteryMillivolts, nil
}

// ErrorInfo returns the stored crash information, if any
func (s *Session) ErrorInfo(ctx context.Context) (string, error) {
	reply, err := s.Request(ctx, GetErrorInfo)
	if err != nil {
		return "", err
	}
	return reply.ErrorInfo, nil
}
