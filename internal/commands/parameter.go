package commands

import "fmt"

// GetParam prints one parameter, or the whole parameter list when no
// name is given.
func (s *Session) GetParam(name, param string) error {
	link, _, err := s.open(name)
	if err != nil {
		return err
	}
	defer link.Close()

	if param != "" {
		value, err := link.GetParameter(param)
		if err != nil {
			return err
		}
		fmt.Printf("%s=%s\n", param, value)
		return nil
	}

	params, err := link.Parameters()
	if err != nil {
		return err
	}
	for _, p := range params {
		value, err := link.GetParameter(p)
		if err != nil {
			return err
		}
		fmt.Printf("%s=%s\n", p, value)
	}
	return nil
}

// SetParam writes a parameter and prints the value the device kept.
func (s *Session) SetParam(name, param, value string) error {
	link, _, err := s.open(name)
	if err != nil {
		return err
	}
	defer link.Close()

	newValue, err := link.SetParameter(param, value)
	if err != nil {
		return err
	}
	fmt.Printf("%s=%s\n", param, newValue)
	return nil
}
